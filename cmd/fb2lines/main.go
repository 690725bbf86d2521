package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/yuanying/fb2lines/internal/config"
	"github.com/yuanying/fb2lines/internal/converter"
	"github.com/yuanying/fb2lines/internal/flatten"
)

const maxCellWidth = 60

type cliOptions struct {
	InputPath string
	Config    config.Config
	Logger    *slog.Logger
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fb2lines",
		Short: "Flatten FictionBook 2 books into headers, text and images",
		Long: `fb2lines reads FictionBook 2 (.fb2, .fb2.zip) books and flattens
their section tree into an ordered sequence of header, text and image lines.`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Path to a YAML configuration file")
	pf.String("log-level", config.DefaultLogLevel, "Log level: debug, info, warn, error")
	pf.String("log-format", config.DefaultLogFormat, "Log format: text, json")
	pf.BoolP("verbose", "v", false, "Enable debug logging (overrides --log-level)")
	pf.Bool("flat-headers", false, "Give every header level 1")
	pf.String("encoding", config.DefaultFallbackEncoding, "Encoding for books without an XML encoding declaration")
	pf.Duration("timeout", config.DefaultTimeout, "Abort a conversion after this duration (0 disables the limit)")

	rootCmd.AddCommand(
		newTextCmd(),
		newLinesCmd(),
		newCoverCmd(),
		newImagesCmd(),
	)
	return rootCmd
}

func newTextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "text <book>",
		Short: "Print the text lines of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := readCLIOptions(cmd, args)
			if err != nil {
				return err
			}
			p, _, err := convert(cmd.Context(), opts)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), p.Flattener().Text())
			return err
		},
	}
}

func newLinesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lines <book>",
		Short: "Print every flattened line as a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := readCLIOptions(cmd, args)
			if err != nil {
				return err
			}
			p, lines, err := convert(cmd.Context(), opts)
			if err != nil {
				return err
			}
			renderLines(cmd.OutOrStdout(), p.Flattener(), lines)
			return nil
		},
	}
}

func newCoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cover <book>",
		Short: "Write the cover image of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := readCLIOptions(cmd, args)
			if err != nil {
				return err
			}
			p, _, err := convert(cmd.Context(), opts)
			if err != nil {
				return err
			}

			cover := converter.DetectCover(p.Document(), p.Flattener())
			if cover == nil {
				return fmt.Errorf("no cover image found in %s", opts.InputPath)
			}

			output, _ := cmd.Flags().GetString("output")
			if output == "" {
				output = defaultCoverPath(opts.InputPath)
			}

			out, path, err := newExporter(opts.Config).WriteCover(cover, output)
			if err != nil {
				return fmt.Errorf("failed to write cover: %w", err)
			}
			if out.Warning != "" {
				opts.Logger.Warn("cover written unprocessed", "reason", out.Warning)
			}
			opts.Logger.Info("cover written",
				"path", path,
				"method", cover.DetectionMethod,
				"width", out.Width,
				"height", out.Height,
			)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "Output file (default: <book>-cover with a format extension)")
	addImageFlags(cmd)
	return cmd
}

func newImagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "images <book>",
		Short: "Write every image line of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := readCLIOptions(cmd, args)
			if err != nil {
				return err
			}
			p, _, err := convert(cmd.Context(), opts)
			if err != nil {
				return err
			}

			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = defaultImagesDir(opts.InputPath)
			}

			paths, exported, err := newExporter(opts.Config).WriteImages(p.Flattener(), dir)
			if err != nil {
				return fmt.Errorf("failed to write images: %w", err)
			}
			for i, out := range exported {
				if out.Warning != "" {
					opts.Logger.Warn("image written unprocessed", "path", paths[i], "reason", out.Warning)
				}
			}
			opts.Logger.Info("images written", "dir", dir, "count", len(paths))
			return nil
		},
	}
	cmd.Flags().StringP("dir", "d", "", "Output directory (default: <book>-images)")
	addImageFlags(cmd)
	return cmd
}

func addImageFlags(cmd *cobra.Command) {
	cmd.Flags().Int("max-width", 0, "Downscale images wider than this (0 keeps the original width)")
	cmd.Flags().Int("quality", config.DefaultJPEGQuality, "JPEG quality (60-100)")
	cmd.Flags().String("format", "keep", "Output image format: keep, jpeg, png")
}

// readCLIOptions loads the configuration file, applies the flags that were
// set explicitly and validates the result.
func readCLIOptions(cmd *cobra.Command, args []string) (cliOptions, error) {
	flags := cmd.Flags()

	configPath, _ := flags.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return cliOptions{}, err
	}

	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.LogFormat, _ = flags.GetString("log-format")
	}
	if flags.Changed("flat-headers") {
		cfg.FlatHeaders, _ = flags.GetBool("flat-headers")
	}
	if flags.Changed("encoding") {
		cfg.FallbackEncoding, _ = flags.GetString("encoding")
	}
	if flags.Changed("timeout") {
		cfg.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("max-width") {
		cfg.Images.MaxWidth, _ = flags.GetInt("max-width")
	}
	if flags.Changed("quality") {
		cfg.Images.JPEGQuality, _ = flags.GetInt("quality")
	}
	if flags.Changed("format") {
		cfg.Images.Format, _ = flags.GetString("format")
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	cfg.Images.Format = strings.ToLower(cfg.Images.Format)

	if verbose, _ := flags.GetBool("verbose"); verbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return cliOptions{}, err
	}

	opts := cliOptions{
		Config: cfg,
		Logger: buildLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat),
	}
	if len(args) > 0 {
		opts.InputPath = args[0]
	}
	return opts, nil
}

func buildLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// convert runs the pipeline for opts.InputPath.
func convert(ctx context.Context, opts cliOptions) (*converter.Pipeline, []flatten.Line, error) {
	start := time.Now()
	p := converter.NewPipeline(converter.ConvertOptions{
		InputPath:        opts.InputPath,
		FallbackEncoding: opts.Config.FallbackEncoding,
		FlatHeaders:      opts.Config.FlatHeaders,
		Timeout:          opts.Config.Timeout,
		MaxPixels:        opts.Config.Images.MaxPixels,
		Logger:           opts.Logger,
	})
	lines, err := p.Convert(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("conversion failed: %w", err)
	}
	opts.Logger.Debug("conversion finished", "elapsed", time.Since(start))
	return p, lines, nil
}

func newExporter(cfg config.Config) *converter.ImageExporter {
	decoder := flatten.NewImagingDecoder()
	if cfg.Images.MaxPixels > 0 {
		decoder.MaxPixels = cfg.Images.MaxPixels
	}
	return converter.NewImageExporter(converter.ExportOptions{
		MaxWidth:    cfg.Images.MaxWidth,
		JPEGQuality: cfg.Images.JPEGQuality,
		Format:      cfg.Images.Format,
		Decoder:     decoder,
	})
}

func renderLines(w io.Writer, f *flatten.Flattener, lines []flatten.Line) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Kind", "Level", "Content"})

	for i, l := range lines {
		switch v := l.(type) {
		case flatten.HeaderLine:
			t.AppendRow(table.Row{i, "header", v.Level, truncate(v.Text)})
		case flatten.TextLine:
			t.AppendRow(table.Row{i, "text", "", truncate(v.Text)})
		case flatten.ImageLine:
			t.AppendRow(table.Row{i, "image", "", describeImage(f, i, v)})
		}
	}

	stats := converter.Summarize(lines)
	t.AppendFooter(table.Row{"", "", "",
		fmt.Sprintf("%d lines: %d headers, %d texts, %d images", len(lines), stats.Headers, stats.Texts, stats.Images)})
	t.Render()
}

func describeImage(f *flatten.Flattener, index int, l flatten.ImageLine) string {
	img, ok, err := f.ImageAt(index)
	if err != nil || !ok {
		return fmt.Sprintf("%d bytes (undecodable)", len(l.Data))
	}
	b := img.Bounds()
	return fmt.Sprintf("%dx%d, %d bytes", b.Dx(), b.Dy(), len(l.Data))
}

func truncate(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= maxCellWidth {
		return s
	}
	return string(r[:maxCellWidth-3]) + "..."
}

func bookStem(inputPath string) string {
	base := inputPath
	for _, ext := range []string{".zip", ".fb2"} {
		if strings.EqualFold(filepath.Ext(base), ext) {
			base = base[:len(base)-len(ext)]
		}
	}
	return base
}

func defaultCoverPath(inputPath string) string {
	return bookStem(inputPath) + "-cover"
}

func defaultImagesDir(inputPath string) string {
	return bookStem(inputPath) + "-images"
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
