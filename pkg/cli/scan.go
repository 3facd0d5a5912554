package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/takakanai/github-issue-linker/pkg/cli/config"
	"github.com/takakanai/github-issue-linker/pkg/infra/sink"
	"github.com/takakanai/github-issue-linker/pkg/infra/storage"
	"github.com/takakanai/github-issue-linker/pkg/usecase"
)

func cmdScan() *cli.Command {
	var (
		storageCfg config.Storage
		pageURL    string
		inputPath  string
		outputPath string
		linkify    bool
	)

	flags := append(storageCfg.Flags(),
		&cli.StringFlag{
			Name:        "url",
			Usage:       "Page URL, used to resolve the repository's mappings",
			Required:    true,
			Destination: &pageURL,
		},
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "HTML file to scan (- for stdin)",
			Value:       "-",
			Destination: &inputPath,
		},
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "Write the linkified document to this file",
			Destination: &outputPath,
		},
		&cli.BoolFlag{
			Name:        "linkify",
			Usage:       "Rewrite matched keys into anchor elements",
			Destination: &linkify,
		},
	)

	return &cli.Command{
		Name:  "scan",
		Usage: "Scan an HTML document once and print the detected issue keys",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := ctxlog.From(ctx)

			pageHTML, err := readInput(inputPath)
			if err != nil {
				return err
			}

			store := storage.NewMemory()
			if storageCfg.MappingFile == "" {
				return goerr.New("a mapping file is required for one-shot scans")
			}
			mappings, err := storage.LoadMappingFile(storageCfg.MappingFile)
			if err != nil {
				return goerr.Wrap(err, "failed to load mapping file")
			}
			if err := store.PutMappings(ctx, mappings); err != nil {
				return goerr.Wrap(err, "failed to store mappings")
			}

			scanner := usecase.NewPageScanner(store, sink.New(store))
			report, rendered, err := scanner.Scan(ctx, usecase.ScanRequest{
				URL:     pageURL,
				HTML:    pageHTML,
				Linkify: linkify || outputPath != "",
			})
			if err != nil {
				return goerr.Wrap(err, "scan failed")
			}

			logger.Info("Scan complete",
				slog.Int("nodes_scanned", report.NodesScanned),
				slog.Int("keys_found", report.KeysFound),
				slog.String("mode", string(report.Mode)),
				slog.Int64("duration_ms", report.DurationMS),
			)

			for _, d := range report.Detections {
				fmt.Printf("%s\t%s\t%s\n", d.Key, d.Mapping.Repository, d.URL())
			}

			if outputPath != "" {
				if err := os.WriteFile(outputPath, []byte(rendered), 0o644); err != nil {
					return goerr.Wrap(err, "failed to write output", goerr.V("path", outputPath))
				}
			}
			return nil
		},
	}
}

func readInput(path string) (string, error) {
	if path == "-" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", goerr.Wrap(err, "failed to read stdin")
		}
		return string(raw), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", goerr.Wrap(err, "failed to read input file", goerr.V("path", path))
	}
	return string(raw), nil
}
