package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/config"
	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/events"
	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/geo"
	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/health"
	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/logger"
	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/payment"
	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/policy"
	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/storage"
	ws "github.com/yuxuanzhouo3/mvp-28-sub000/internal/websocket"
)

// RegionRouter wires the resolver, policy table, payment router, and
// storage connector behind the HTTP surface.
type RegionRouter struct {
	profile   policy.RegionProfile
	cfg       *config.EnvironmentConfig
	resolver  *geo.Resolver
	tracker   *health.Tracker
	router    *payment.Router
	records   payment.RecordRepository
	store     storage.Connector
	hub       *ws.Hub
	events    *events.Emitter
	rulesPath string
	log       *logger.Logger
}

func main() {
	log := logger.New("region-router")

	// The deployment's own region decides which credentials are loaded
	// and which storage engine backs payment records.
	profile := policy.PolicyFor(config.GetEnv("DEPLOY_COUNTRY", "US"))

	loader := config.NewLoader(profile)
	cfg, err := loader.Load()
	if err != nil {
		log.Fatal("failed to load configuration", "error", err.Error())
	}

	rulesPath := config.GetEnv("ROUTING_RULES_PATH", "")
	var rules *config.RoutingRules
	if rulesPath != "" {
		rules, err = config.LoadRoutingRules(rulesPath)
		if err != nil {
			log.Fatal("failed to load routing rules", "path", rulesPath, "error", err.Error())
		}
		log.Info("routing rules loaded", "path", rulesPath, "version", rules.Version)
	}

	tracker := health.NewTracker()
	resolver := geo.NewResolver(geoSources(rules), tracker, log)

	store, err := storage.Open(profile.StorageEngine, cfg)
	if err != nil {
		log.Fatal("failed to open storage connector",
			"engine", string(profile.StorageEngine),
			"error", err.Error(),
		)
	}
	defer store.Close()

	var records payment.RecordRepository
	if pg, ok := store.(*storage.PostgresConnector); ok {
		records = payment.NewPostgresRecordRepository(pg.Conn)
	}

	hub := ws.NewHub(log)
	go hub.Run()
	emitter := events.NewEmitter(hub)

	core := payment.NewCore(payment.NewConverter(exchangeRates(rules)))
	router := payment.NewRouter(records, log)
	registerProviders(router, profile, cfg, core, rules, log)

	router.OnFallback(func(reference string, from, to policy.Method) {
		emitter.EmitFallbackTriggered(reference, from, to)
	})
	resolver.OnHealthChange(func(source string, healthy bool, errorCount int64) {
		emitter.EmitSourceHealth(source, healthy, errorCount)
	})

	app := &RegionRouter{
		profile:   profile,
		cfg:       cfg,
		resolver:  resolver,
		tracker:   tracker,
		router:    router,
		records:   records,
		store:     store,
		hub:       hub,
		events:    emitter,
		rulesPath: rulesPath,
		log:       log,
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", app.healthCheck).Methods("GET")
	r.HandleFunc("/ws", hub.ServeWs).Methods("GET")
	r.HandleFunc("/ws/stats", app.wsStats).Methods("GET")
	r.HandleFunc("/region/detect", app.detectRegion).Methods("GET")
	r.HandleFunc("/region/cache", app.clearRegionCache).Methods("DELETE")
	r.HandleFunc("/payments", app.createPayment).Methods("POST")
	r.HandleFunc("/payments/methods", app.availableMethods).Methods("GET")
	r.HandleFunc("/payments/{method}/{externalID}/confirm", app.confirmPayment).Methods("POST")
	r.HandleFunc("/payments/{method}/{externalID}/refund", app.refundPayment).Methods("POST")
	r.HandleFunc("/payments/history/{userID}", app.paymentHistory).Methods("GET")
	r.HandleFunc("/webhooks/{method}", app.providerWebhook).Methods("POST")
	r.HandleFunc("/admin/rules/reload", app.reloadRules).Methods("POST")

	port := config.GetEnv("PORT", "8080")
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("region router listening",
			"port", port,
			"region", string(profile.Region),
			"storage", string(profile.StorageEngine),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", "error", err.Error())
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("forced shutdown", "error", err.Error())
	}
	log.Info("server exited")
}

// geoSources builds the detection chain, honoring routing-rule
// ordering and URL overrides when a rules file is present.
func geoSources(rules *config.RoutingRules) []geo.Source {
	if rules == nil || len(rules.GeoSources) == 0 {
		return []geo.Source{geo.NewIPAPISource(""), geo.NewIPWhoSource("")}
	}

	sources := make([]geo.Source, 0, len(rules.GeoSources))
	for _, rule := range rules.GeoSources {
		switch rule.Name {
		case "ip-api":
			sources = append(sources, geo.NewIPAPISource(rule.URL))
		case "ipwho":
			sources = append(sources, geo.NewIPWhoSource(rule.URL))
		}
	}
	if len(sources) == 0 {
		return []geo.Source{geo.NewIPAPISource(""), geo.NewIPWhoSource("")}
	}
	return sources
}

// exchangeRates converts rule entries to converter overrides.
func exchangeRates(rules *config.RoutingRules) map[string]decimal.Decimal {
	if rules == nil || len(rules.ExchangeRates) == 0 {
		return nil
	}
	overrides := make(map[string]decimal.Decimal, len(rules.ExchangeRates))
	for _, rate := range rules.ExchangeRates {
		overrides[rate.From+":"+rate.To] = decimal.NewFromFloat(rate.Rate)
	}
	return overrides
}

// registerProviders constructs and registers a provider for each
// method the deployment region allows. A provider whose credentials
// are missing is skipped with a warning rather than failing startup:
// the router degrades to the remaining methods.
func registerProviders(router *payment.Router, profile policy.RegionProfile, cfg *config.EnvironmentConfig, core *payment.Core, rules *config.RoutingRules, log *logger.Logger) {
	for _, method := range profile.PaymentMethods {
		var (
			provider payment.Provider
			err      error
		)
		switch method {
		case policy.MethodAlipay:
			var p *payment.AlipayProvider
			if p, err = payment.NewAlipayProvider(cfg, core, log); err == nil {
				p.SetEndpoint(rules.Endpoint("alipay"))
				provider = p
			}
		case policy.MethodWechat:
			var p *payment.WechatProvider
			if p, err = payment.NewWechatProvider(cfg, core, log); err == nil {
				p.SetEndpoint(rules.Endpoint("wechat"))
				provider = p
			}
		case policy.MethodStripe:
			var p *payment.StripeProvider
			if p, err = payment.NewStripeProvider(cfg, core, log); err == nil {
				p.SetEndpoint(rules.Endpoint("stripe"))
				provider = p
			}
		case policy.MethodPaypal:
			var p *payment.PaypalProvider
			if p, err = payment.NewPaypalProvider(cfg, core, log); err == nil {
				p.SetEndpoint(rules.Endpoint("paypal"))
				p.SetWebhookID(config.GetEnv("PAYPAL_WEBHOOK_ID", ""))
				provider = p
			}
		}

		if err != nil {
			log.Warn("skipping payment provider", "method", string(method), "error", err.Error())
			continue
		}
		if provider == nil {
			continue
		}
		if err := router.Register(provider); err != nil {
			log.Warn("provider registration failed", "method", string(method), "error", err.Error())
		}
	}
}
