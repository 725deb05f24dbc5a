// Command stakechaind runs the staking chain node: it embeds a CometBFT
// consensus engine in-process and wires the block-lifecycle driver to it as
// a local ABCI application.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	dbm "github.com/cometbft/cometbft-db"
	cmtcfg "github.com/cometbft/cometbft/config"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/cometbft/cometbft/node"
	"github.com/cometbft/cometbft/p2p"
	"github.com/cometbft/cometbft/privval"
	"github.com/cometbft/cometbft/proxy"

	"github.com/stakechain/chaincore/pkg/chain"
	"github.com/stakechain/chaincore/pkg/config"
	"github.com/stakechain/chaincore/pkg/enclave"
	"github.com/stakechain/chaincore/pkg/kv"
	"github.com/stakechain/chaincore/pkg/metrics"
)

func main() {
	configFile := flag.String("config", "", "optional YAML configuration file layered over environment variables")
	txQuery := flag.Bool("tx-query", false, "record height-indexed historical state for the tx-query service")
	flag.Parse()

	logger := log.New(os.Stdout, "[stakechaind] ", log.LstdFlags)

	var cfg *config.Config
	var err error
	if *configFile != "" {
		cfg, err = config.LoadFile(*configFile)
		if err != nil {
			logger.Fatalf("load config: %v", err)
		}
	} else {
		cfg = config.Load()
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	appDB, err := dbm.NewDB("stakechain", dbm.BackendType(cfg.DBBackend), filepath.Join(cfg.DataDir, "app"))
	if err != nil {
		logger.Fatalf("open app db: %v", err)
	}
	store := kv.NewStore(appDB)

	networkByte, err := cfg.NetworkByte()
	if err != nil {
		logger.Fatalf("network byte: %v", err)
	}
	proxyImpl := enclave.NewLoopback(networkByte)

	m, registry := metrics.New()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(registry))
		logger.Printf("metrics listening on %s", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Printf("metrics server stopped: %v", err)
		}
	}()

	driver, err := chain.New(cfg, store, proxyImpl, m, log.New(os.Stdout, "[driver] ", log.LstdFlags))
	if err != nil {
		logger.Fatalf("build driver: %v", err)
	}
	if *txQuery {
		driver.EnableHistoricalState()
	}
	if restored, err := driver.Restore(); err != nil {
		logger.Fatalf("restore state: %v", err)
	} else if restored {
		logger.Printf("resuming chain %s at height %d", cfg.ChainID, driver.State().LastBlockHeight)
	} else {
		logger.Printf("fresh node, awaiting InitChain for chain %s", cfg.ChainID)
	}

	app := chain.NewApplication(driver, log.New(os.Stdout, "[abci] ", log.LstdFlags))

	n, err := newCometNode(cfg, app)
	if err != nil {
		logger.Fatalf("create cometbft node: %v", err)
	}
	if err := n.Start(); err != nil {
		logger.Fatalf("start cometbft node: %v", err)
	}
	logger.Printf("node started: rpc=%s p2p=%s", cfg.RPCAddr, cfg.P2PAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Printf("shutting down")
	if err := n.Stop(); err != nil {
		logger.Printf("stop cometbft node: %v", err)
	}
	n.Wait()
}

// newCometNode builds the in-process CometBFT node around the ABCI
// application, with keys and genesis in their standard locations under the
// data directory.
func newCometNode(cfg *config.Config, app *chain.Application) (*node.Node, error) {
	cometCfg := cmtcfg.DefaultConfig()
	rootDir := filepath.Join(cfg.DataDir, "cometbft")
	cmtcfg.EnsureRoot(rootDir)
	cometCfg.SetRoot(rootDir)
	cometCfg.P2P.ListenAddress = cfg.P2PAddr
	cometCfg.RPC.ListenAddress = cfg.RPCAddr
	if cfg.GenesisFile != "" {
		cometCfg.Genesis = cfg.GenesisFile
	}

	dbProvider := cmtcfg.DBProvider(func(ctx *cmtcfg.DBContext) (dbm.DB, error) {
		return dbm.NewDB(ctx.ID, dbm.BackendType(cfg.DBBackend), filepath.Join(cometCfg.RootDir, "data"))
	})

	pv := privval.LoadOrGenFilePV(
		cometCfg.PrivValidatorKeyFile(),
		cometCfg.PrivValidatorStateFile(),
	)
	nodeKey, err := p2p.LoadOrGenNodeKey(cometCfg.NodeKeyFile())
	if err != nil {
		return nil, err
	}

	tmLogger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout))
	tmLogger = tmLogger.With("module", "cometbft")

	return node.NewNode(
		cometCfg,
		pv,
		nodeKey,
		proxy.NewLocalClientCreator(app),
		node.DefaultGenesisDocProviderFunc(cometCfg),
		dbProvider,
		node.DefaultMetricsProvider(cometCfg.Instrumentation),
		tmLogger,
	)
}
