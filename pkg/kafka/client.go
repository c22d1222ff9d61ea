// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"db-chat-go/internal/config"
	"db-chat-go/pkg/log"
	"db-chat-go/pkg/tasks"
)

// TaskProcessor 处理一条从 Kafka 取出的快照任务。
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.SnapshotTask) error
}

// maxAttempts 是同一任务在本进程内的最大处理次数，用尽后提交 offset 跳过。
// 消费组内 FetchMessage 不会重投未提交的消息，所以重试只能在这里完成。
const maxAttempts = 3

// retryBackoff 是第一次重试前的等待时间，之后线性增长。
var retryBackoff = 2 * time.Second

var producer *kafka.Writer

// ErrProducerNotInitialized 表示未配置 Kafka，无法排队构建。
var ErrProducerNotInitialized = errors.New("kafka producer is not initialized")

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
	}
	log.Info("Kafka 生产者初始化成功")
}

// ProduceSnapshotTask 发送一个快照任务到 Kafka。以数据库名为 key，同库任务落在同一分区上顺序消费。
func ProduceSnapshotTask(ctx context.Context, task tasks.SnapshotTask) error {
	if producer == nil {
		return ErrProducerNotInitialized
	}
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.Database),
		Value: taskBytes,
	})
}

// Close 关闭生产者。
func Close() error {
	if producer == nil {
		return nil
	}
	return producer.Close()
}

// StartConsumer 启动一个 Kafka 消费者来处理快照任务，直到 ctx 被取消。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Kafka 消费者已停止")
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			return
		}

		var task tasks.SnapshotTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			commit(ctx, r, m)
			continue
		}

		log.Infow("开始处理快照任务", "action", task.Action, "database", task.Database, "offset", m.Offset)
		if err := processWithRetry(ctx, processor, task); err != nil {
			if ctx.Err() != nil {
				// 停机中断，不提交 offset，重启后由消费组重新投递
				log.Info("Kafka 消费者已停止")
				return
			}
			log.Errorf("快照任务多次失败(%d 次)，提交 offset 跳过: action=%s database=%s error=%v",
				maxAttempts, task.Action, task.Database, err)
		} else {
			log.Infof("快照任务处理成功: action=%s database=%s", task.Action, task.Database)
		}
		commit(ctx, r, m)
	}
}

// processWithRetry 最多处理 maxAttempts 次，两次之间按 retryBackoff 线性退避。
func processWithRetry(ctx context.Context, processor TaskProcessor, task tasks.SnapshotTask) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = processor.Process(ctx, task); err == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		log.Warnf("处理快照任务失败(第 %d 次)，稍后重试: action=%s database=%s error=%v", attempt, task.Action, task.Database, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
	return err
}

func commit(ctx context.Context, r *kafka.Reader, m kafka.Message) {
	if err := r.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}
