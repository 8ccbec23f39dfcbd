package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/moutaamadani/mina-frontend-sub001/internal/assetstore"
	"github.com/moutaamadani/mina-frontend-sub001/internal/backend"
	"github.com/moutaamadani/mina-frontend-sub001/internal/credits"
	"github.com/moutaamadani/mina-frontend-sub001/internal/domain"
	"github.com/moutaamadani/mina-frontend-sub001/internal/generation"
	"github.com/moutaamadani/mina-frontend-sub001/internal/history"
	"github.com/moutaamadani/mina-frontend-sub001/internal/infra"
	"github.com/moutaamadani/mina-frontend-sub001/internal/normalize"
	"github.com/moutaamadani/mina-frontend-sub001/internal/orchestrator"
	"github.com/moutaamadani/mina-frontend-sub001/internal/panels"
	"github.com/moutaamadani/mina-frontend-sub001/internal/probe"
	"github.com/moutaamadani/mina-frontend-sub001/internal/resolve"
)

func main() {
	_ = godotenv.Load()

	prompt := flag.String("prompt", "", "generation brief")
	kind := flag.String("kind", "still", "still or motion")
	product := flag.String("product", "", "path to a product image")
	historyPath := flag.String("history", "mina-history.db", "history database path")
	flag.Parse()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	if strings.TrimSpace(*prompt) == "" {
		logger.Fatal().Msg("generate: -prompt is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	api, err := backend.NewClient(backend.Options{
		BaseURL:    cfg.APIBaseURL,
		Token:      cfg.APIToken,
		Subject:    cfg.SubjectID,
		HTTPClient: httpClient,
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("generate: failed to configure backend client")
	}

	assets := assetstore.New(assetstore.Options{
		Backend:        api,
		OwnedHost:      cfg.AssetHost,
		TransientHosts: cfg.TransientHosts,
		HTTPClient:     httpClient,
		Logger:         &logger,
	})
	prober := probe.New(probe.Options{HTTPClient: httpClient, Logger: &logger})
	panelMgr := panels.NewManager(panels.Options{
		Store:           assets,
		Prober:          prober,
		NormalizeCfg:    normalize.Config{MaxBytes: cfg.UploadMaxBytes},
		Logger:          &logger,
		MaxVideoSeconds: cfg.MaxVideoSeconds,
		MaxAudioSeconds: cfg.MaxAudioSeconds,
	})

	reconciler := credits.New(credits.Options{
		Fetch:  api.Credits,
		TTL:    cfg.CreditTTL,
		Logger: &logger,
	})

	store, err := history.Open(*historyPath, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("generate: failed to open history store")
	}
	defer store.Close()

	orch := orchestrator.New(orchestrator.Options{
		Backend:      api,
		Resolver:     &resolve.Resolver{OwnedHost: cfg.AssetHost},
		Logger:       &logger,
		MaxWait:      cfg.MaxJobWait,
		PollInterval: cfg.PollInterval,
	})

	svc := generation.New(generation.Options{
		Orchestrator: orch,
		Assets:       assets,
		Credits:      reconciler,
		History:      store,
		Panels:       panelMgr,
		Logger:       &logger,
		Subject:      cfg.SubjectID,
		Locale:       cfg.Locale,
		OnProgress: func(status string, scanLines []string) {
			line := status
			if len(scanLines) > 0 {
				line = scanLines[len(scanLines)-1]
			}
			fmt.Fprintf(os.Stderr, "\r%-60s", line)
		},
	})

	if *product != "" {
		data, err := os.ReadFile(*product)
		if err != nil {
			logger.Fatal().Err(err).Msg("generate: failed to read product image")
		}
		items := panelMgr.AddFiles(ctx, domain.PanelProduct, []panels.LocalFile{{
			Name: filepath.Base(*product),
			MIME: mimeForPath(*product),
			Data: data,
		}})
		if len(items) == 0 || !items[0].Ready() {
			for _, n := range panelMgr.Notices() {
				logger.Error().Str("reason", string(n.Code)).Msg("generate: product image rejected")
			}
			os.Exit(1)
		}
	}

	brief := generation.Brief{Prompt: *prompt}
	var item *domain.HistoryItem
	if *kind == "motion" {
		item, err = svc.GenerateMotion(ctx, brief)
	} else {
		item, err = svc.GenerateStill(ctx, brief)
	}
	fmt.Fprintln(os.Stderr)
	if err != nil {
		logger.Error().Err(err).Msg("generate: failed")
		fmt.Println(svc.UserMessage(err))
		os.Exit(1)
	}

	if state, err := reconciler.Read(ctx, cfg.SubjectID); err == nil {
		logger.Info().Int("balance", state.Balance).Msg("generate: credits after job")
	}
	fmt.Println(item.URL)
}

func mimeForPath(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	default:
		return ""
	}
}
