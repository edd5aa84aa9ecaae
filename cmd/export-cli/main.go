// cmd/export-cli/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"inspection-export/internal/common/logger"
	"inspection-export/internal/export"
	"inspection-export/internal/pptx"
	"inspection-export/pkg/registry"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

// exitErr carries a numeric exit code through the cobra error path.
type exitErr struct {
	code int
	msg  string
}

func (e *exitErr) Error() string { return e.msg }

func codeError(code int, format string, args ...any) error {
	return &exitErr{code: code, msg: fmt.Sprintf(format, args...)}
}

type globalFlags struct {
	registryPath string
	revision     string
	filesURL     string
	verbose      bool
}

type renderFlags struct {
	templateDir string
	templateURL string
	outDir      string
	component   string
	images      bool
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		var ee *exitErr
		if errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, "Error:", ee.msg)
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "export-cli",
		Short:         "Flatten and render inspection reports offline",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)

	pf := root.PersistentFlags()
	pf.StringVar(&g.registryPath, "registry", "", "Template registry file (embedded default when empty)")
	pf.StringVar(&g.revision, "revision", "", "Template revision id (registry default when empty)")
	pf.StringVar(&g.filesURL, "files-url", "", "Retrieval endpoint used to resolve stored photo names")
	pf.BoolVar(&g.verbose, "verbose", false, "Log pipeline steps to stderr")

	root.AddCommand(
		newFlattenCmd(&g),
		newManifestCmd(&g),
		newRenderCmd(&g),
		newRevisionsCmd(&g),
	)
	return root
}

func newFlattenCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "flatten <report.json>",
		Short: "Print the placeholder map of a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := newExporter(g, nil, nil, renderFlags{})
			if err != nil {
				return err
			}
			preview, err := previewFile(cmd.Context(), exp, args[0], g.revision)
			if err != nil {
				return err
			}
			for _, w := range preview.Flat.Warnings {
				fmt.Fprintln(cmd.ErrOrStderr(), "WARN:", w)
			}
			return writeJSON(cmd.OutOrStdout(), preview.Flat.Values)
		},
	}
}

func newManifestCmd(g *globalFlags) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "manifest <report.json>",
		Short: "Check that a report covers every key its template revision declares",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := newExporter(g, nil, nil, renderFlags{})
			if err != nil {
				return err
			}
			preview, err := previewFile(cmd.Context(), exp, args[0], g.revision)
			if err != nil {
				return err
			}
			report := map[string]interface{}{
				"revision":    preview.Revision.ID,
				"declared":    len(preview.Revision.ExpectedKeys()),
				"produced":    len(preview.Flat.Values),
				"missingKeys": preview.MissingKeys,
				"warnings":    preview.Flat.Warnings,
			}
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if strict && len(preview.MissingKeys) > 0 {
				return codeError(2, "%d declared key(s) not produced", len(preview.MissingKeys))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit 2 when any declared key is missing")
	return cmd
}

func newRenderCmd(g *globalFlags) *cobra.Command {
	var f renderFlags
	cmd := &cobra.Command{
		Use:   "render <report.json>",
		Short: "Render a report into its slide template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.templateDir == "" && f.templateURL == "" {
				return codeError(3, "--template-dir or --template-url is required")
			}
			log := cliLogger(g.verbose)

			var sources []pptx.Source
			if f.templateURL != "" {
				sources = append(sources, pptx.NewHTTPSource(f.templateURL, 30*time.Second))
			}
			if f.templateDir != "" {
				sources = append(sources, &pptx.DirSource{Dir: f.templateDir})
			}
			var images pptx.ImageStrategy
			if f.images {
				images = pptx.NewImageEmbedder(pptx.NewHTTPFetcher(10*time.Second, 20<<20), 10, 4, log)
			}

			exp, err := newExporter(g, pptx.NewLoader(log, 0, sources...), images, f)
			if err != nil {
				return err
			}
			doc, err := os.ReadFile(args[0])
			if err != nil {
				return codeError(3, "reading report: %s", err)
			}
			res, err := exp.Export(cmd.Context(), doc, g.revision)
			if err != nil {
				std := export.Classify(err)
				return codeError(1, "%s: %s", std.Code, std.Details)
			}

			if err := os.MkdirAll(f.outDir, 0o755); err != nil {
				return err
			}
			path := filepath.Join(f.outDir, res.Artifact.Name)
			if err := os.WriteFile(path, res.Artifact.Data, 0o644); err != nil {
				return err
			}
			for _, w := range res.Warnings {
				fmt.Fprintln(cmd.ErrOrStderr(), "WARN:", w)
			}
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
				"artifact":       path,
				"sha256":         res.Artifact.SHA256,
				"size":           res.Artifact.Size,
				"revision":       res.Revision.ID,
				"textTokens":     res.Substitution.TextTokens,
				"missingKeys":    res.Substitution.MissingKeys,
				"imagesEmbedded": res.ImagesEmbedded(),
				"imagesFailed":   res.ImagesFailed(),
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.templateDir, "template-dir", "", "Directory holding template files")
	fl.StringVar(&f.templateURL, "template-url", "", "Base URL serving template files; tried before --template-dir")
	fl.StringVar(&f.outDir, "out-dir", ".", "Directory the artifact is written to")
	fl.StringVar(&f.component, "component", "inspection", "First part of the artifact name")
	fl.BoolVar(&f.images, "images", false, "Embed photos for revisions that declare image tokens")
	return cmd
}

func newRevisionsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "revisions",
		Short: "List the template revisions of the registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.LoadRegistry(g.registryPath)
			if err != nil {
				return codeError(3, "loading registry: %s", err)
			}
			ids := make([]string, 0, len(reg.Revisions))
			byID := make(map[string]registry.Revision, len(reg.Revisions))
			for _, rev := range reg.Revisions {
				ids = append(ids, rev.ID)
				byID[rev.ID] = rev
			}
			sort.Strings(ids)
			w := cmd.OutOrStdout()
			for _, id := range ids {
				rev := byID[id]
				marker := " "
				if id == reg.DefaultRevision {
					marker = "*"
				}
				fmt.Fprintf(w, "%s %-16s %-34s glyphs=%-8s images=%t keys=%d\n",
					marker, rev.ID, rev.File, rev.Glyphs, rev.Images, len(rev.ExpectedKeys()))
			}
			return nil
		},
	}
}

func newExporter(g *globalFlags, templates export.TemplateLoader, images pptx.ImageStrategy, f renderFlags) (*export.Exporter, error) {
	reg, err := registry.LoadRegistry(g.registryPath)
	if err != nil {
		return nil, codeError(3, "loading registry: %s", err)
	}
	return export.New(reg, templates, images, export.Options{
		Component:    f.component,
		FilesBaseURL: g.filesURL,
	}, nil, cliLogger(g.verbose))
}

func previewFile(ctx context.Context, exp *export.Exporter, path, revision string) (*export.Preview, error) {
	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, codeError(3, "reading report: %s", err)
	}
	preview, err := exp.Preview(ctx, doc, revision)
	if err != nil {
		std := export.Classify(err)
		return nil, codeError(1, "%s: %s", std.Code, std.Details)
	}
	return preview, nil
}

func cliLogger(verbose bool) logger.Logger {
	if !verbose {
		return logger.NewNoOpLogger()
	}
	return logger.NewZapAdapter(logger.NewWithOutput("debug", "console", "stderr"))
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
