package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/vitwit/x402-oracle/agent"
	"github.com/vitwit/x402-oracle/clients"
	"github.com/vitwit/x402-oracle/config"
	"github.com/vitwit/x402-oracle/logger"
	"github.com/vitwit/x402-oracle/types"
	"github.com/vitwit/x402-oracle/utils"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: agent <path>   e.g. agent /api/v1/price/SOL")
		os.Exit(2)
	}
	config.LoadEnv(nil)

	cfg, err := config.AgentFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.NewZapLogger(cfg.LogLevel)

	opts := []agent.Option{agent.WithLogger(log), agent.WithPreferred(cfg.PreferredChain)}
	payers, err := buildPayers(cfg)
	if err != nil {
		log.Error("invalid wallet configuration", map[string]any{"err": err})
		os.Exit(1)
	}
	for _, p := range payers {
		opts = append(opts, agent.WithPayer(p))
	}

	a, err := agent.New(cfg.OracleURL, opts...)
	if err != nil {
		log.Error("failed to create agent", map[string]any{"err": err})
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	res, err := a.Get(ctx, os.Args[1])
	if err != nil {
		log.Error("query failed", map[string]any{"err": err, "code": types.ErrorCode(err)})
		os.Exit(1)
	}

	var payload any
	if err := json.Unmarshal(res.Body, &payload); err != nil {
		payload = string(res.Body)
	}
	out, err := utils.NormalizeJSON(map[string]any{
		"status": res.StatusCode,
		"paid":   res.Paid(),
		"method": res.Method,
		"data":   payload,
		"stats":  a.Stats(),
	})
	if err != nil {
		log.Error("failed to encode result", map[string]any{"err": err})
		os.Exit(1)
	}
	fmt.Println(string(out))
}

func buildPayers(cfg *config.AgentConfig) ([]agent.Payer, error) {
	var payers []agent.Payer

	if cfg.SolanaPrivateKey != "" {
		key, err := utils.SolanaKeyFromBase58(cfg.SolanaPrivateKey)
		if err != nil {
			return nil, err
		}
		client, err := clients.NewSolanaClient(cfg.SolanaNetwork, cfg.SolanaRPCURL)
		if err != nil {
			return nil, err
		}
		payers = append(payers, agent.NewSolanaPayer(client, key))
	}

	if cfg.EthPrivateKey != "" {
		key, err := utils.PrivateKeyFromHex(cfg.EthPrivateKey)
		if err != nil {
			return nil, err
		}
		client, err := clients.NewEVMClient(cfg.EthChain, cfg.EthChainID, cfg.EthRPCURL)
		if err != nil {
			return nil, err
		}
		payers = append(payers, agent.NewEVMPayer(client, key, agent.WithDomain(cfg.DomainName, cfg.DomainVersion)))

		if cfg.EnableUserOperations {
			payers = append(payers, agent.NewUserOperationPayer(clients.NewUserOperationStub("", ""), key))
		}
	}
	return payers, nil
}
