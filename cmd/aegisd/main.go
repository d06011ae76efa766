// Command aegisd is the AEGIS edge node daemon: it wires every component
// (C1-C12) into a single TLS-terminating HTTP listener and runs until
// signalled to shut down. Wiring order and graceful shutdown are grounded
// on cmd/api/main.go; the component set itself is new.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/aegis-network/edge-core/internal/aegiserr"
	"github.com/aegis-network/edge-core/internal/botclassifier"
	"github.com/aegis-network/edge-core/internal/cache"
	"github.com/aegis-network/edge-core/internal/canonical"
	"github.com/aegis-network/edge-core/internal/challenge"
	"github.com/aegis-network/edge-core/internal/circuitbreaker"
	"github.com/aegis-network/edge-core/internal/config"
	"github.com/aegis-network/edge-core/internal/crdtcounter"
	"github.com/aegis-network/edge-core/internal/droporacle"
	"github.com/aegis-network/edge-core/internal/evidence"
	"github.com/aegis-network/edge-core/internal/identity"
	"github.com/aegis-network/edge-core/internal/metricsagg"
	"github.com/aegis-network/edge-core/internal/orchestrator"
	"github.com/aegis-network/edge-core/internal/originproxy"
	"github.com/aegis-network/edge-core/internal/registry"
	"github.com/aegis-network/edge-core/internal/threatbus"
	"github.com/aegis-network/edge-core/internal/tlsfp"
	"github.com/aegis-network/edge-core/internal/waf"
	"github.com/aegis-network/edge-core/internal/wasmhost"
	"github.com/aegis-network/edge-core/pb"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("aegisd: no .env file found, using process environment", "error", err)
	}

	cfg := config.Get()

	oracle, err := droporacle.New(cfg.DropOracle.ObjectPath)
	if err != nil {
		log.Fatalf("droporacle: %v", err)
	}
	oracle.Start()
	oracle.SetSynThreshold(100)

	patterns, err := botclassifier.LoadPatterns([]string{cfg.BotClassify.PatternsPath})
	if err != nil {
		slog.Warn("botclassifier: failed to load patterns, starting with an empty set", "error", err)
		patterns, _ = botclassifier.LoadPatterns(nil)
	}
	limiter := botclassifier.NewRateLimiter(cfg.BotClassify.RateMaxRequests, time.Duration(cfg.BotClassify.RateWindowSec)*time.Second)
	suspiciousRate := float64(cfg.BotClassify.RateMaxRequests) / float64(cfg.BotClassify.RateWindowSec)
	classifier := botclassifier.New(patterns, limiter, suspiciousRate, cfg.BotClassify.SuspiciousCRDTMin)

	challengeSigner, err := signerFromSeedOrRandom(cfg.Challenge.SigningSeedHex)
	if err != nil {
		log.Fatalf("challenge: signer: %v", err)
	}
	ipSalt := make([]byte, 32)
	if _, err := rand.Read(ipSalt); err != nil {
		log.Fatalf("challenge: generate ip salt: %v", err)
	}
	challengeEngine := challenge.NewEngine(
		challengeSigner,
		cfg.Challenge.PowBaseBits,
		cfg.Challenge.PowMaxBits,
		time.Duration(cfg.Challenge.TokenTTLSec)*time.Second,
		ipSalt,
	)
	challengeSweeper := challenge.NewSweeper(challengeEngine, time.Duration(cfg.Challenge.SweepIntervalSec)*time.Second)

	wafEngine, err := waf.LoadEngine(cfg.WAF.RulesPath)
	if err != nil {
		slog.Warn("waf: failed to load rules file, falling back to built-in defaults", "path", cfg.WAF.RulesPath, "error", err)
		wafEngine, err = waf.NewEngine(waf.DefaultRules)
		if err != nil {
			log.Fatalf("waf: build default engine: %v", err)
		}
	}
	wafPolicy := waf.DefaultActionPolicy()

	wasmRuntime := wasmhost.NewRuntime(cfg.WasmHost.RuntimeBinary, cfg.WasmHost.ModuleDir)
	wasmManager := wasmhost.NewManager(wasmRuntime, cfg.WasmHost.EdgeFunctionFailClosed)

	routes, err := orchestrator.LoadModuleConfig(moduleConfigPath())
	if err != nil {
		log.Fatalf("orchestrator: load module config: %v", err)
	}
	quota := wasmhost.Quota{
		FuelLimit:        cfg.WasmHost.FuelLimit,
		MemoryLimitPages: cfg.WasmHost.MemoryLimitPages,
		WallClock:        time.Duration(cfg.WasmHost.WallClockLimitMs) * time.Millisecond,
	}
	for _, b := range routes.Bindings() {
		class := wasmhost.ClassWAF
		if b.Class == orchestrator.ModuleClassEdgeFunction {
			class = wasmhost.ClassEdgeFunction
		}
		if err := loadAndRegisterModule(wasmManager, cfg.WasmHost.ModuleDir, quota, cfg.WasmHost.PoolSizePerModule, b, class); err != nil {
			slog.Warn("wasmhost: module not admitted to active set", "module", b.ModuleID, "error", err)
		}
	}

	respCache := cache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, "aegis:cache:", cfg.Cache.DefaultTTLSec)

	vault := evidence.NewVault(evidence.Config{})

	proxy := originproxy.New(originproxy.Options{
		OriginHost:              cfg.OriginProxy.OriginHost,
		DialTimeout:             time.Duration(cfg.OriginProxy.DialTimeoutMs) * time.Millisecond,
		ResponseHeaderTimeout:   time.Duration(cfg.OriginProxy.ResponseHeaderTimeoutMs) * time.Millisecond,
		BreakerFailureThreshold: uint32(cfg.OriginProxy.BreakerFailureThreshold),
		BreakerCooldown:         time.Duration(cfg.OriginProxy.BreakerCooldownSec) * time.Second,
		BreakerHalfOpenProbes:   uint32(cfg.OriginProxy.BreakerHalfOpenProbes),
		OnCircuitTrip: func(from, to circuitbreaker.State) {
			vault.RecordCircuitTrip(context.Background(), cfg.OriginProxy.OriginHost, fmt.Sprintf("%s -> %s", from, to))
		},
	})

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	bus := threatbus.New(redisClient, "", cfg.ThreatBus.TrustedIssuerKeys, cfg.ThreatBus.PublishQueueDepth, cfg.ThreatBus.PublishRatePerSec)

	crdtSigner, err := signerFromSeedOrRandom(cfg.Challenge.SigningSeedHex)
	if err != nil {
		log.Fatalf("crdtcounter: signer: %v", err)
	}
	crdtMgr := crdtcounter.NewManager(cfg.Node.ID, time.Duration(cfg.CRDT.EpochWindowSec)*time.Second, bus, crdtSigner)
	bus.SubscribeCounterOps(threatbus.TopicCounterOps, func(sop *threatbus.SignedCounterOp) {
		if applied, needsResync := crdtMgr.Apply(*sop); !applied && needsResync {
			slog.Warn("crdtcounter: peer op rejected, resync needed", "peer", sop.IssuerKey)
		}
	})
	bus.Subscribe(threatbus.TopicThreatIntel, func(sr *threatbus.SignedRecord) {
		if sr.Record.Severity < 7 {
			return
		}
		if prefix, err := netip.ParsePrefix(sr.Record.Subject); err == nil {
			classifier.Blacklist(prefix)
		} else if addr, err := netip.ParseAddr(sr.Record.Subject); err == nil {
			classifier.Blacklist(netip.PrefixFrom(addr, addr.BitLen()))
		}
	})

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	regClient := registry.NewClient(&pb.MockRegistryClient{})
	regCache := registry.NewCache(regClient, time.Duration(cfg.Registry.CacheTTLMs)*time.Millisecond, bus)
	go regCache.Run(runCtx, nil)

	if socket := os.Getenv("SPIFFE_ENDPOINT_SOCKET"); socket != "" {
		verifier, err := identity.NewNodeVerifier(socket)
		if err != nil {
			slog.Warn("identity: SPIRE agent unreachable, continuing without peer mTLS verification", "error", err)
		} else {
			defer verifier.Close()
			if _, err := verifier.VerifyNodeID(identity.NodeSPIFFEID(cfg.Node.TrustDomain, cfg.Node.ID)); err != nil {
				slog.Warn("identity: failed to verify own SPIFFE ID", "error", err)
			}
		}
	}

	metricsSigner, err := signerFromSeedOrRandom(cfg.MetricsAgg.SigningSeedHex)
	if err != nil {
		log.Fatalf("metricsagg: signer: %v", err)
	}
	metricsStore, err := metricsagg.NewPostgresStore(cfg.MetricsAgg.PostgresDSN)
	if err != nil {
		log.Fatalf("metricsagg: open postgres store: %v", err)
	}
	defer metricsStore.Close()
	aggregator := metricsagg.NewAggregator(prometheus.DefaultGatherer, metricsSigner, metricsStore, time.Duration(cfg.MetricsAgg.WindowSec)*time.Second)

	console := orchestrator.NewConsole()

	pipeline := orchestrator.New(orchestrator.Deps{
		NodeID:          cfg.Node.ID,
		Oracle:          oracle,
		Classifier:      classifier,
		ChallengeEngine: challengeEngine,
		WAFEngine:       wafEngine,
		WAFPolicy:       wafPolicy,
		WasmManager:     wasmManager,
		Routes:          routes,
		Cache:           respCache,
		Proxy:           proxy,
		CRDTManager:     crdtMgr,
		Bus:             bus,
		BusSigner:       crdtSigner,
		Console:         console,
		Vault:           vault,
	})

	go challengeSweeper.Run(runCtx)
	go aggregator.Run(runCtx)
	go config.Watch(runCtx, os.Getenv("CONFIG_PATH"), 5*time.Second)
	if err := bus.Listen(runCtx, threatbus.TopicThreatIntel); err != nil {
		slog.Warn("threatbus: starting threat-intel listen loop failed, continuing without gossip ingest", "error", err)
	}
	if err := bus.Listen(runCtx, threatbus.TopicCounterOps); err != nil {
		slog.Warn("threatbus: starting counter-ops listen loop failed, continuing without gossip ingest", "error", err)
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", handleHealthz(oracle, proxy)).Methods(http.MethodGet)
	router.HandleFunc("/v1/console", console.HandleWebSocket)
	admin := router.PathPrefix("/v1/admin").Subrouter()
	admin.HandleFunc("/oracle/block", handleOracleBlock(oracle)).Methods(http.MethodPost)
	admin.HandleFunc("/oracle/unblock", handleOracleUnblock(oracle)).Methods(http.MethodPost)
	admin.HandleFunc("/evidence", handleEvidenceQuery(vault)).Methods(http.MethodGet)
	admin.HandleFunc("/evidence/verify", handleEvidenceVerify(vault)).Methods(http.MethodGet)
	router.PathPrefix("/").Handler(pipeline)

	tlsCfg, err := selfSignedTLSConfig(cfg.Node.ID)
	if err != nil {
		log.Fatalf("tls: generate server certificate: %v", err)
	}

	rawListener, err := net.Listen("tcp", cfg.Server.Interface+":"+cfg.Server.Port)
	if err != nil {
		log.Fatalf("listen on %s:%s: %v", cfg.Server.Interface, cfg.Server.Port, err)
	}
	capturingListener := tlsfp.NewHelloCapturingListener(rawListener, tlsCfg, cfg.TLSFP.MaxClientHelloBytes)

	server := &http.Server{
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			if raw, ok := tlsfp.RawClientHello(c); ok {
				ctx = orchestrator.WithRawClientHello(ctx, raw)
			}
			return ctx
		},
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("aegisd: received shutdown signal, shutting down gracefully")
		runCancel()
		bus.Stop()
		challengeSweeper.Stop()
		oracle.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownSec)*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("aegisd: server shutdown error", "error", err)
		}
	}()

	slog.Info("aegisd: starting", "node_id", cfg.Node.ID, "addr", cfg.Server.Interface+":"+cfg.Server.Port)
	if err := server.Serve(capturingListener); err != nil && err != http.ErrServerClosed {
		log.Fatalf("aegisd: server failed: %v", err)
	}
	slog.Info("aegisd: stopped")
}

// handleHealthz reports liveness plus a shallow view of the drop oracle
// and origin breaker state, enough for an operator to tell the node apart
// from "process up but origin unreachable".
func handleHealthz(oracle *droporacle.Oracle, proxy *originproxy.Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":         "ok",
			"drop_oracle":    oracle.Stats(),
			"origin_breaker": proxy.State().String(),
		})
	}
}

// handleOracleBlock lets an operator push a manual block entry into the
// oracle's blocklist. Accepts {"prefix": "203.0.113.0/24", "duration_sec": 3600}.
func handleOracleBlock(oracle *droporacle.Oracle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prefix      string `json:"prefix"`
			DurationSec int    `json:"duration_sec"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, aegiserr.Protocol("admin.oracle.block", err).Error(), http.StatusBadRequest)
			return
		}
		prefix, err := netip.ParsePrefix(req.Prefix)
		if err != nil {
			if addr, aerr := netip.ParseAddr(req.Prefix); aerr == nil {
				prefix = netip.PrefixFrom(addr, addr.BitLen())
			} else {
				http.Error(w, aegiserr.Protocol("admin.oracle.block", err).Error(), http.StatusBadRequest)
				return
			}
		}
		duration := time.Duration(req.DurationSec) * time.Second
		if duration <= 0 {
			duration = time.Hour
		}
		oracle.Block(prefix, duration)
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleOracleUnblock(oracle *droporacle.Oracle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prefix string `json:"prefix"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, aegiserr.Protocol("admin.oracle.unblock", err).Error(), http.StatusBadRequest)
			return
		}
		prefix, err := netip.ParsePrefix(req.Prefix)
		if err != nil {
			if addr, aerr := netip.ParseAddr(req.Prefix); aerr == nil {
				prefix = netip.PrefixFrom(addr, addr.BitLen())
			} else {
				http.Error(w, aegiserr.Protocol("admin.oracle.unblock", err).Error(), http.StatusBadRequest)
				return
			}
		}
		oracle.Unblock(prefix)
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleEvidenceQuery exposes the audit vault for operator inspection,
// filterable by the same fields evidence.Query accepts.
func handleEvidenceQuery(vault *evidence.Vault) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := evidence.Query{
			Type:      evidence.RecordType(r.URL.Query().Get("type")),
			ClientIP:  r.URL.Query().Get("client_ip"),
			RequestID: r.URL.Query().Get("request_id"),
			Limit:     100,
		}
		if limit := r.URL.Query().Get("limit"); limit != "" {
			fmt.Sscanf(limit, "%d", &q.Limit)
		}
		records := vault.Query(r.Context(), q)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(records)
	}
}

// handleEvidenceVerify reports whether the vault's hash chain is intact and
// the point of the first break, if any, alongside the Merkle root covering
// every record appended so far.
func handleEvidenceVerify(vault *evidence.Vault) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok, brokenAt := vault.ValidateChain()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"chain_intact": ok,
			"broken_at":    brokenAt,
			"merkle_root":  vault.MerkleRoot(),
		})
	}
}

// loadAndRegisterModule reads a binding's module bytes from disk,
// verifies its content address when sourced from IPFS, then runs it
// through wasmhost.Load before registering it — the only path by which
// a module can enter the wasmhost active set (spec.md §4.6, invariants
// I1/I3). For SourceLocal, Location is a filesystem path (defaulting to
// moduleDir/<id>.wasm); for SourceIPFS, Location is the CID a module
// fetcher is expected to have already cached at moduleDir/ipfs/<cid>.wasm
// — this node validates the cached bytes against that CID rather than
// performing the fetch itself (no IPFS client ships in this stack).
func loadAndRegisterModule(mgr *wasmhost.Manager, moduleDir string, quota wasmhost.Quota, poolSize int, b orchestrator.ModuleBinding, class wasmhost.Class) error {
	var path string
	switch b.Source {
	case orchestrator.SourceIPFS:
		path = filepath.Join(moduleDir, "ipfs", b.Location+".wasm")
	default:
		path = b.Location
		if path == "" {
			path = filepath.Join(moduleDir, b.ModuleID+".wasm")
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read module bytes: %w", err)
	}

	if b.Source == orchestrator.SourceIPFS {
		if err := wasmhost.VerifyContentAddress(content, b.Location); err != nil {
			return aegiserr.Integrity("wasmhost.load", err)
		}
	}

	var sig []byte
	if b.Signature != "" {
		sig, err = hex.DecodeString(b.Signature)
		if err != nil {
			return fmt.Errorf("decode module signature: %w", err)
		}
	}

	desc, err := wasmhost.Load(b.ModuleID, content, sig, b.Issuer, class)
	if err != nil {
		return aegiserr.Integrity("wasmhost.load", err)
	}
	return mgr.Register(desc, quota, 1, poolSize)
}

func moduleConfigPath() string {
	if p := os.Getenv("AEGIS_MODULE_CONFIG_PATH"); p != "" {
		return p
	}
	return ""
}

func signerFromSeedOrRandom(seedHex string) (*canonical.Signer, error) {
	if seedHex == "" {
		return canonical.NewSigner()
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, aegiserr.Config("signer", err)
	}
	return canonical.NewSignerFromSeed(seed)
}

// selfSignedTLSConfig mints an in-memory leaf certificate for the edge
// listener, grounded on internal/sop/cert_generator.go's root-CA
// generation, trimmed to a single non-CA leaf (an operator-supplied
// certificate replaces this in any real deployment; this keeps the
// daemon runnable without one).
func selfSignedTLSConfig(nodeID string) (*tls.Config, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().Unix()),
		Subject:      pkix.Name{CommonName: nodeID, Organization: []string{"AEGIS Edge Network"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{nodeID, "localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, pub, priv)
	if err != nil {
		return nil, err
	}
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}
