package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	x402 "github.com/vitwit/x402-oracle"
	"github.com/vitwit/x402-oracle/config"
	"github.com/vitwit/x402-oracle/logger"
	"github.com/vitwit/x402-oracle/middleware"
	"github.com/vitwit/x402-oracle/types"
)

func main() {
	config.LoadEnv(nil)

	cfg, err := config.GateFromEnv()
	log := logger.NewZapLogger(config.GetEnv(config.EnvLogLevel, "info"))
	if err != nil {
		log.Error("invalid configuration", map[string]any{"err": err})
		os.Exit(1)
	}

	gate, err := x402.New(cfg, x402.WithLogger(log))
	if err != nil {
		log.Error("failed to start payment gate", map[string]any{"err": err})
		os.Exit(1)
	}
	defer gate.Close()

	srv := &http.Server{
		Addr:              config.Addr(),
		Handler:           newRouter(gate, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("oracle listening", map[string]any{"addr": srv.Addr, "chains": len(cfg.Chains)})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", map[string]any{"err": err})
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", map[string]any{"err": err})
	}
}

// newRouter mounts the free endpoints and the paid query routes.
func newRouter(gate *x402.X402, cfg *types.GateConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"status": "ok", "protocol": "x402", "version": x402.ProtocolVersion})
	})
	if cfg.EnableMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	stats := func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"success": true, "stats": gate.Usage()})
	}
	r.Get("/api/analytics", stats)

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/stats", stats)
		api.Get("/pricing", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{
				"success":         true,
				"pricing":         pricingTable(gate.Pricing(), cfg.Chains[0].Decimals),
				"payment_methods": gate.Supported(),
				"protocol":        "x402",
			})
		})

		paid := func(tier, param string, opts ...middleware.RouteOption) http.HandlerFunc {
			return gate.MustRequire(tier, opts...)(queryHandler(tier, param)).ServeHTTP
		}
		api.Get("/price/{token}", paid("token-price", "token"))
		api.Get("/wallet/{address}", paid("wallet-balance", "address"))
		api.Get("/holders/{mint}", paid("token-holders", "mint"))
		api.Get("/nft/{mint}", paid("nft-metadata", "mint"))
		api.Get("/transactions/{address}", paid("transaction-history", "address"))
		api.Get("/defi/{address}", paid("defi-positions", "address"))
		api.Get("/analytics/{mint}", paid("token-analytics", "mint"))
		api.Get("/cross-chain/balance/{address}", paid("wallet-balance", "address",
			middleware.WithDescription("Cross-chain wallet balance query")))
	})
	return r
}

type tierPrice struct {
	Endpoint    string           `json:"endpoint"`
	Price       types.MinorUnits `json:"price"`
	PriceToken  string           `json:"price_usdc"`
	Description string           `json:"description"`
}

func pricingTable(pricing map[string]types.MinorUnits, decimals int32) []tierPrice {
	out := make([]tierPrice, 0, len(pricing))
	for tier, price := range pricing {
		out = append(out, tierPrice{
			Endpoint:    tier,
			Price:       price,
			PriceToken:  price.Decimal(decimals).StringFixed(3),
			Description: fmt.Sprintf("Query %s data", strings.ReplaceAll(tier, "-", " ")),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

// queryHandler stands in for the data lookups, which live outside the gate.
func queryHandler(tier, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"query":     tier,
			param:       chi.URLParam(r, param),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"paid":      true,
		})
	}
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
