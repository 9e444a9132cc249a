package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/VazKrishnan/lightnvm/pkg/ftl"
	"github.com/VazKrishnan/lightnvm/pkg/gc"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the FTL against a synthetic block device, serving /status and /metrics",
	RunE:  runFTL,
}

func configFromViper() ftl.Config {
	blocksPerPool := viper.GetInt("blocks-per-pool")
	overProvision := viper.GetInt("over-provision")
	hostPagesPerBlock := viper.GetInt("host-pages-per-block")
	pools := viper.GetInt("pools")

	return ftl.Config{
		NoWaits:                    viper.GetBool("no-waits"),
		PoolSerialize:              viper.GetBool("pool-serialize"),
		NumAppendPoints:            pools,
		NumPages:                   pools * (blocksPerPool - overProvision) * hostPagesPerBlock,
		BlocksPerPool:              blocksPerPool,
		HostPagesPerBlock:          hostPagesPerBlock,
		HostPagesPerFlashPage:      viper.GetInt("host-pages-per-flash-page"),
		SectorsPerHostPage:         viper.GetInt("sectors-per-host-page"),
		OverProvisionBlocksPerPool: overProvision,
		TRead:                      viper.GetInt64("t-read"),
		TWrite:                     viper.GetInt64("t-write"),
		RequestPoolSize:            viper.GetInt("request-pool-size"),
	}
}

func runFTL(_ *cobra.Command, _ []string) error {
	cfg := configFromViper()

	f, err := ftl.NewFTL(cfg, newFakeBlockDevice(), nil)
	if err != nil {
		return fmt.Errorf("constructing FTL: %w", err)
	}
	f.SetWarnf(func(format string, args ...interface{}) { log.Printf("ftl: "+format, args...) })

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := gc.New(f)
	collector.SetWarnf(func(format string, args ...interface{}) { log.Printf("gc: "+format, args...) })
	go collector.Run(ctx)

	go serveStatus(ctx, f, viper.GetString("listen"))
	go runWorkload(ctx, f)

	<-ctx.Done()
	log.Print("ftlsim: shutting down")
	return f.Close()
}

// runWorkload issues a steady stream of writes and reads across the
// logical address space so the running instance has something to show
// on /status and /metrics, exercising deferral, invalidation, and (once
// enough blocks fill up) GC.
func runWorkload(ctx context.Context, f *ftl.FTL) {
	cfg := f.Config()
	if cfg.NumPages == 0 {
		return
	}
	rng := rand.New(rand.NewSource(1))
	payload := make([]byte, 4096)

	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l := uint64(rng.Intn(cfg.NumPages))
			sector := l * uint64(cfg.SectorsPerHostPage)
			if rng.Intn(4) == 0 {
				req := &ftl.Request{Sector: sector, Dir: ftl.DirRead, Payload: make([]byte, len(payload)), Complete: func(*ftl.Request, error) {}}
				if err := f.Read(req); err != nil {
					log.Printf("ftlsim: read sector %d: %v", sector, err)
				}
				continue
			}
			rng.Read(payload)
			req := &ftl.Request{Sector: sector, Dir: ftl.DirWrite, Payload: append([]byte(nil), payload...), Complete: func(*ftl.Request, error) {}}
			if _, err := f.Write(req, ftl.WriteOpts{Map: ftl.MapPrimary}); err != nil {
				log.Printf("ftlsim: write sector %d: %v", sector, err)
			}
		}
	}
}

type statusResponse struct {
	Pools []poolStatus `json:"pools"`
}

type poolStatus struct {
	Index         int `json:"index"`
	FreeBlocks    int `json:"free_blocks"`
	PrioListLen   int `json:"prio_list_length"`
}

func serveStatus(ctx context.Context, f *ftl.FTL, addr string) {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{}
		for i := 0; i < f.NumPools(); i++ {
			pool := f.Pool(ftl.PoolIndex(i))
			resp.Pools = append(resp.Pools, poolStatus{
				Index:       i,
				FreeBlocks:  pool.NrFreeBlocks(),
				PrioListLen: len(pool.PrioList()),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("ftlsim: serving /status and /metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("ftlsim: http server: %v", err)
	}
}
