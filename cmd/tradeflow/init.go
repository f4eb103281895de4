package main

import (
	"context"
	"tradeflow/conf"
	"tradeflow/internal/consts"
	"tradeflow/internal/dao"
	"tradeflow/internal/execution"
	"tradeflow/internal/handler/positions"
	"tradeflow/internal/handler/webhook"
	"tradeflow/internal/ledger"
	"tradeflow/internal/registry"
	"tradeflow/internal/router"
	"tradeflow/internal/sentinel"
	"tradeflow/internal/state"
	"tradeflow/internal/venue"
	"tradeflow/internal/venue/oanda"
	"tradeflow/internal/venue/okx"
	"tradeflow/internal/venue/tradier"
	"tradeflow/pkg/cache"
	"tradeflow/pkg/db"
	"tradeflow/pkg/kafka"
	"tradeflow/pkg/logger"
	"tradeflow/pkg/recorder"

	"github.com/nntaoli-project/goex/v2"
)

// 组装全部组件
// 场所凭证缺失只是禁用对应场所，不阻止进程启动

type app struct {
	apiRouter *router.ApiRouter
	producer  kafka.ProducerService
	cancel    context.CancelFunc
}

func initApp(ctx context.Context) (*app, error) {
	cfg := conf.AppConfig
	ctx, cancel := context.WithCancel(ctx)

	// 数据库可选，不配就没有下单审计表
	var orderDao dao.OrderRecorder
	if cfg.Db.Host != "" {
		gdb := db.Init(db.NewConfig(cfg.Db.Username, cfg.Db.Password, cfg.Db.Host, cfg.Db.Port, cfg.Db.DbName))
		orderDao = dao.NewOrderDao(gdb)
	}

	// 冷却期：有 redis 用 redis（多实例共享窗口），没有退化到进程内
	var cooldown execution.Cooldown
	if cfg.Redis.Addr != "" {
		cache.InitRedis(cfg.Redis)
		cooldown = execution.NewRedisCooldown(cache.GetRedisClient(), cfg.Execution.CooldownWindow)
	} else {
		cooldown = execution.NewMemoryCooldown(cfg.Execution.CooldownWindow)
	}

	var producer kafka.ProducerService
	if cfg.Kafka.Broker != "" {
		producer = kafka.NewKafkaProducer(cfg.Kafka.Broker)
	}

	statePath := cfg.Execution.StatePath
	if statePath == "" {
		statePath = "data/state.json"
	}
	store, err := state.NewStore(statePath)
	if err != nil {
		cancel()
		return nil, err
	}

	led := ledger.New(cfg.Execution, store)
	reg := registry.New(cfg.Execution.AllowCrossVenueDuplicateSymbols)

	venues := buildVenues(ctx, cfg)

	execRouter := execution.NewRouter(cfg.Execution, venues, cooldown, reg, led, orderDao, producer)

	auditPath := cfg.Execution.AuditPath
	if auditPath == "" {
		auditPath = "logs/sentinel-audit.json"
	}
	audit := recorder.NewJSONFileRecorder(auditPath)
	sentinel.New(cfg.Execution, venues.All(), reg, led, audit).Start(ctx)

	wh := webhook.NewHandler(execRouter, cfg.Webhook.Secret)
	ph := positions.NewHandler(reg, led, orderDao)

	return &app{
		apiRouter: router.NewApiRouter(wh, ph),
		producer:  producer,
		cancel:    cancel,
	}, nil
}

// buildVenues 按配置装配场所，Connect 失败的禁用
func buildVenues(ctx context.Context, cfg conf.Config) execution.Venues {
	var venues execution.Venues

	if cfg.Okx.ApiKey != "" {
		if cfg.Okx.Simulated {
			goex.DefaultHttpCli.SetHeaders("x-simulated-trading", "1") // 设置为模拟环境
		}
		venues.Crypto = connectOrDisable(ctx, okx.New(cfg.Okx))
	}
	if cfg.Oanda.LiveToken != "" {
		venues.FxLive = connectOrDisable(ctx,
			oanda.New(consts.VenueOanda, cfg.Oanda.LiveToken, cfg.Oanda.LiveAccountID, cfg.Oanda.LiveApiBase))
	}
	if cfg.Oanda.DemoToken != "" {
		venues.FxPaper = connectOrDisable(ctx,
			oanda.New(consts.VenuePaper, cfg.Oanda.DemoToken, cfg.Oanda.DemoAccountID, cfg.Oanda.PracticeApiBase))
	} else {
		// 没有 practice 账户时用本地模拟做 paper 路由
		venues.FxPaper = venue.NewSimulated(consts.VenuePaper)
	}
	if cfg.Tradier.Token != "" {
		venues.Equity = connectOrDisable(ctx, tradier.New(cfg.Tradier))
	}
	return venues
}

func connectOrDisable(ctx context.Context, v venue.Adapter) venue.Adapter {
	if err := v.Connect(ctx); err != nil {
		logger.Error("venue disabled", logger.Pair("venue", v.Name()), logger.Pair("error", err.Error()))
		return nil
	}
	logger.Info("venue connected", logger.Pair("venue", v.Name()))
	return v
}

func (a *app) shutdown() {
	a.cancel()
	if a.producer != nil {
		a.producer.Close()
	}
	cache.CloseRedis()
	logger.Sync()
}
