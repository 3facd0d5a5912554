package model_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"golang.org/x/net/html"

	"github.com/takakanai/github-issue-linker/pkg/domain/model"
)

func TestRepoFromURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{
			name: "repository root",
			url:  "https://github.com/acme/widgets",
			want: "acme/widgets",
		},
		{
			name: "deep path",
			url:  "https://github.com/acme/widgets/pull/42/files",
			want: "acme/widgets",
		},
		{
			name: "trailing slash",
			url:  "https://github.com/acme/widgets/",
			want: "acme/widgets",
		},
		{
			name: "no repository path",
			url:  "https://github.com/",
			want: "",
		},
		{
			name: "single segment",
			url:  "https://github.com/acme",
			want: "",
		},
		{
			name: "unparseable",
			url:  "://bad",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gt.Equal(t, model.RepoFromURL(tt.url), tt.want)
		})
	}
}

func TestMutationRecordHasAddedNodes(t *testing.T) {
	node := &html.Node{Type: html.ElementNode, Data: "div"}

	rec := model.MutationRecord{Type: model.MutationChildList, Added: []*html.Node{node}}
	gt.True(t, rec.HasAddedNodes())

	rec = model.MutationRecord{Type: model.MutationChildList}
	gt.False(t, rec.HasAddedNodes())

	rec = model.MutationRecord{Type: model.MutationAttributes, Added: []*html.Node{node}}
	gt.False(t, rec.HasAddedNodes())
}
