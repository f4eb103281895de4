package main

import (
	"context"
	"flag"
	"log"
	"tradeflow/conf"
	"tradeflow/pkg/logger"
)

// 启动服务（监听webhook）

/*
测试

BODY='{"symbol":"EUR_USD","direction":"buy","notional_value":15000,"strategy":"tv-breakout-v2","sl":1.0450,"tp":1.0650,"timeframe":"1h"}'
SECRET="ab12cd34ef56abcdef1234567890abcdef1234567890abcdef1234567890"
SIGNATURE=$(echo -n $BODY | openssl dgst -sha256 -hmac $SECRET | sed 's/^.* //')

curl -X POST http://localhost:8090/webhook \
  -H "Content-Type: application/json" \
  -H "X-Signature: $SIGNATURE" \
  -d "$BODY"

*/

func main() {
	configPath := flag.String("c", "config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置文件
	if err := conf.LoadConfig(*configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(conf.AppConfig.Log)

	a, err := initApp(context.Background())
	if err != nil {
		logger.Fatalf("init failed: %v", err)
	}

	server := NewServer(&conf.AppConfig)
	server.RegisterOnShutdown(a.shutdown)
	server.Run(a.apiRouter)
}
