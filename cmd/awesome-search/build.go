package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/resilience"
)

var buildOut string

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build one index artifact from the document store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		source, err := catalog.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer source.Close()
		snap, err := source.Load(ctx)
		if err != nil {
			return err
		}

		build, err := resilience.Call(ctx, cfg.Index.BuildTimeout, "build", func(ctx context.Context) (*indexer.Build, error) {
			return indexer.NewBuilder(0).Build(ctx, snap)
		})
		if err != nil {
			return err
		}

		out := buildOut
		if out == "" {
			out = cfg.Index.DataDir
		}
		if out == "" {
			out = "."
		}
		gen := build.Generation
		path, err := segment.NewWriter(out, 0).Write(gen.Version(), build.Artifact)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "artifact:  %s\n", path)
		fmt.Fprintf(w, "version:   %s\n", gen.Version())
		fmt.Fprintf(w, "snapshot:  %s\n", snap.ID())
		fmt.Fprintf(w, "documents: %d\n", gen.DocCount())
		fmt.Fprintf(w, "terms:     %d\n", len(gen.Terms()))
		fmt.Fprintf(w, "size:      %d bytes\n", gen.Size())
		return nil
	},
}

func init() {
	buildCmd.Flags().StringVarP(&buildOut, "out", "o", "", "directory to write the artifact to (default index.dataDir or .)")
}
