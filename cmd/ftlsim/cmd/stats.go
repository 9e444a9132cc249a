package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/VazKrishnan/lightnvm/pkg/ftl"
)

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().Int("writes", 64, "number of synthetic writes to issue before reporting")
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Run a short synthetic write burst against a fresh FTL and print final per-pool statistics",
	RunE:  runStats,
}

type statsReport struct {
	Pools []poolStatus `json:"pools"`
}

func runStats(cmd *cobra.Command, _ []string) error {
	cfg := configFromViper()
	f, err := ftl.NewFTL(cfg, newFakeBlockDevice(), nil)
	if err != nil {
		return fmt.Errorf("constructing FTL: %w", err)
	}
	defer f.Close()

	n, _ := cmd.Flags().GetInt("writes")
	done := make(chan error, n)
	for i := 0; i < n && cfg.NumPages > 0; i++ {
		sector := uint64(i%cfg.NumPages) * uint64(cfg.SectorsPerHostPage)
		req := &ftl.Request{
			Sector:  sector,
			Dir:     ftl.DirWrite,
			Payload: make([]byte, 4096),
			Complete: func(_ *ftl.Request, err error) {
				done <- err
			},
		}
		if _, err := f.Write(req, ftl.WriteOpts{Map: ftl.MapPrimary}); err != nil {
			return fmt.Errorf("write %d: %w", i, err)
		}
	}
	for i := 0; i < n && cfg.NumPages > 0; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			return fmt.Errorf("timed out waiting for writes to complete")
		}
	}

	report := statsReport{}
	for i := 0; i < f.NumPools(); i++ {
		pool := f.Pool(ftl.PoolIndex(i))
		report.Pools = append(report.Pools, poolStatus{
			Index:       i,
			FreeBlocks:  pool.NrFreeBlocks(),
			PrioListLen: len(pool.PrioList()),
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
