package kafka

import (
	"context"
	"errors"
	"log"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
)

// Kafka 生产者服务，下游的报表/回测系统订阅这些事件
// 定义接口，方便测试和替换
type ProducerService interface {
	Produce(ctx context.Context, topic string, key []byte, msg any) error
	Close()
}

const (
	// 每笔路由结果（成交或拒绝）
	TopicExecutionResult = "execution_result"
	// 场所回调的平仓事件，带已实现盈亏
	TopicTradeClosed = "trade_closed"
)

type kafkaProducer struct {
	resultWriter *kafka.Writer // 下单结果
	closedWriter *kafka.Writer // 平仓事件
}

func NewKafkaProducer(brokerURL string) ProducerService {
	resultWriter := &kafka.Writer{
		Addr:     kafka.TCP(brokerURL),
		Topic:    TopicExecutionResult,
		Balancer: &kafka.LeastBytes{}, // 保证写入负载均衡
	}
	closedWriter := &kafka.Writer{
		Addr:     kafka.TCP(brokerURL),
		Topic:    TopicTradeClosed,
		Balancer: &kafka.LeastBytes{},
	}

	return &kafkaProducer{
		resultWriter: resultWriter,
		closedWriter: closedWriter,
	}
}

// Produce 序列化为 JSON 并写入 Kafka
// key 使用 symbol，确保相同品种的事件进入同一个 Partition（有序性）
func (p *kafkaProducer) Produce(ctx context.Context, topic string, key []byte, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	var writer *kafka.Writer
	switch topic {
	case TopicExecutionResult:
		writer = p.resultWriter
	case TopicTradeClosed:
		writer = p.closedWriter
	default:
		return errors.New("invalid kafka topic")
	}

	return writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: data,
	})
}

func (p *kafkaProducer) Close() {
	if err := p.resultWriter.Close(); err != nil {
		log.Printf("close kafka result writer: %v", err)
	}
	if err := p.closedWriter.Close(); err != nil {
		log.Printf("close kafka closed writer: %v", err)
	}
}
