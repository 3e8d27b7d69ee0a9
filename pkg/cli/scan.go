package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mchmarny/photoguard/pkg/metrics"
	"github.com/mchmarny/photoguard/pkg/moderation"
	"github.com/mchmarny/photoguard/pkg/net"
	"github.com/mchmarny/photoguard/pkg/sensitivity"
	urfave "github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const (
	scanConcurrencyDefault = 4
	stdinArg               = "-"

	sourceFile   = "file"
	sourceURL    = "url"
	sourceBase64 = "base64"
)

var (
	urlFlag = &urfave.StringFlag{
		Name:  "url",
		Usage: "Download URL of the image",
	}

	tokenFlag = &urfave.StringFlag{
		Name:  "token",
		Usage: "Bearer token used with --url (default: stored fetch token)",
	}

	base64Flag = &urfave.StringFlag{
		Name:  "base64",
		Usage: "Inline base64 image payload or data URI, '-' reads it from stdin",
	}

	mimeFlag = &urfave.StringFlag{
		Name:  "mime",
		Usage: "MIME type of the --base64 payload",
		Value: "image/jpeg",
	}

	concurrencyFlag = &urfave.IntFlag{
		Name:  "concurrency",
		Usage: "Number of files classified in parallel",
		Value: scanConcurrencyDefault,
	}

	scanCmd = &urfave.Command{
		Name:      "scan",
		Usage:     "Classify images without storing them",
		ArgsUsage: "[FILE...]",
		Action:    cmdScan,
		Flags: []urfave.Flag{
			urlFlag,
			tokenFlag,
			base64Flag,
			mimeFlag,
			concurrencyFlag,
			debugFlag,
		},
	}
)

// ScanResult is the classification of a single image.
type ScanResult struct {
	Source     string              `json:"source" yaml:"source"`
	Sensitive  bool                `json:"sensitive" yaml:"sensitive"`
	Score      float64             `json:"score" yaml:"score"`
	Moderation moderation.Metadata `json:"moderation" yaml:"moderation"`
}

func newScanResult(source string, r sensitivity.Result) *ScanResult {
	return &ScanResult{
		Source:     source,
		Sensitive:  r.Sensitive,
		Score:      r.Score,
		Moderation: moderation.FromResult(r),
	}
}

func cmdScan(c *urfave.Context) error {
	applyFlags(c)
	cfg := getConfig(c)
	classifier := cfg.Classifier()

	var results []*ScanResult

	if u := c.String(urlFlag.Name); u != "" {
		token := c.String(tokenFlag.Name)
		if token == "" {
			token = cfg.FetchToken()
		}
		img, err := net.Fetch(c.Context, u, token, cfg.Config.Upload.FetchMaxBytes)
		if err != nil {
			return fmt.Errorf("fetching %s: %w", u, err)
		}
		r := classifier.AnalyzeBytes(img.Data)
		metrics.RecordClassification(sourceURL, r)
		results = append(results, newScanResult(u, r))
	}

	if b := c.String(base64Flag.Name); b != "" {
		if b == stdinArg {
			in, err := io.ReadAll(c.App.Reader)
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			b = strings.TrimSpace(string(in))
		}
		r := classifier.AnalyzeBase64(b, c.String(mimeFlag.Name))
		metrics.RecordClassification(sourceBase64, r)
		results = append(results, newScanResult(sourceBase64, r))
	}

	files, err := scanFiles(c, classifier, c.Args().Slice())
	if err != nil {
		return err
	}
	results = append(results, files...)

	if len(results) == 0 {
		return errors.New("no image provided, use FILE, --url or --base64")
	}

	return encode(c, results)
}

// scanFiles classifies files concurrently, results keep the argument order.
func scanFiles(c *urfave.Context, classifier *sensitivity.Classifier, paths []string) ([]*ScanResult, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("checking file %s: %w", p, err)
		}
	}

	limit := c.Int(concurrencyFlag.Name)
	if limit < 1 {
		limit = scanConcurrencyDefault
	}

	results := make([]*ScanResult, len(paths))
	g, ctx := errgroup.WithContext(c.Context)
	g.SetLimit(limit)

	for i, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r := classifier.AnalyzeFile(p)
			metrics.RecordClassification(sourceFile, r)
			slog.Debug("scanned", "file", p, "sensitive", r.Sensitive, "score", r.Score)
			results[i] = newScanResult(p, r)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scanning files: %w", err)
	}

	return results, nil
}
