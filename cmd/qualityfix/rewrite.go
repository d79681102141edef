package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/grafov/m3u8"
	"github.com/spf13/cobra"

	"github.com/agleyzer/qualityfix/internal/manifest"
	"github.com/agleyzer/qualityfix/internal/source"
)

func (a *app) newRewriteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rewrite [file|url|-]",
		Short: "Rewrite one manifest and print the result",
		Long: `Reads a manifest from a file, an http(s) URL or standard input and prints it
with only the highest-bandwidth variant kept. The selected quality label goes to
standard error. Media playlists and unrecognized text are printed unchanged.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := a.load(cmd, args)
			if err != nil {
				return err
			}

			res := manifest.Process(doc.Text)
			if res.Rewritten && a.cfg.Rewrite.Verify {
				if err := manifest.Verify(res.Output, *res.Selected); err != nil {
					return err
				}
			}

			if _, err := io.WriteString(cmd.OutOrStdout(), res.Output); err != nil {
				return fmt.Errorf("failed to write manifest: %w", err)
			}

			if res.Rewritten {
				fmt.Fprintln(cmd.ErrOrStderr(), res.Selected.Label)
			} else {
				a.logger.Debug("manifest passed through", "kind", res.Kind.String())
			}
			return nil
		},
	}
}

func (a *app) newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [file|url|-]",
		Short: "List the variants of a manifest and the one that would be kept",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := a.load(cmd, args)
			if err != nil {
				return err
			}
			return a.inspect(cmd.OutOrStdout(), doc)
		},
	}
}

func (a *app) load(cmd *cobra.Command, args []string) (*source.Document, error) {
	arg := "-"
	if len(args) > 0 {
		arg = args[0]
	}

	loader := source.NewLoader(a.cfg.Upstream.Timeout, a.cfg.Upstream.MaxManifestBytes)
	loader.Stdin = cmd.InOrStdin()

	doc, err := loader.Load(cmd.Context(), arg)
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}
	return doc, nil
}

func (a *app) inspect(w io.Writer, doc *source.Document) error {
	res := manifest.Process(doc.Text)

	fmt.Fprintf(w, "kind: %s\n", res.Kind)
	if res.Kind != manifest.Master {
		return nil
	}

	fmt.Fprintf(w, "variants: %d (dropped %d without URI)\n", len(res.Variants), res.Dropped)
	if n, err := decodedVariants(doc.Text); err != nil {
		a.logger.Debug("m3u8 decoder rejected manifest", "error", err)
	} else if n != len(res.Variants) {
		fmt.Fprintf(w, "note: m3u8 decoder sees %d variants\n", n)
	}

	if len(res.Variants) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(res.Variants))
	for i, v := range res.Variants {
		mark := ""
		if v.Offset == res.Selected.Offset {
			mark = "*"
		}

		resolution := "-"
		if v.HasResolution() {
			resolution = fmt.Sprintf("%dx%d", v.Width, v.Height)
		}

		uri, err := doc.Resolve(v.URI)
		if err != nil {
			uri = v.URI
		}

		rows = append(rows, []string{
			mark,
			strconv.Itoa(i),
			strconv.FormatInt(v.Bandwidth, 10),
			resolution,
			v.Label,
			v.Codecs,
			uri,
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("", "#", "BANDWIDTH", "RESOLUTION", "LABEL", "CODECS", "URI").
		Rows(rows...)

	fmt.Fprintln(w, t.Render())
	fmt.Fprintf(w, "selected: %s (%d bps)\n", res.Selected.Label, res.Selected.Bandwidth)
	return nil
}

// decodedVariants counts variants as seen by the m3u8 decoder.
func decodedVariants(text string) (int, error) {
	p, listType, err := m3u8.DecodeFrom(strings.NewReader(text), false)
	if err != nil {
		return 0, err
	}
	if listType != m3u8.MASTER {
		return 0, fmt.Errorf("decoded as media playlist")
	}

	n := 0
	for _, v := range p.(*m3u8.MasterPlaylist).Variants {
		if v != nil {
			n++
		}
	}
	return n, nil
}
