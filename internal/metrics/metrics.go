// Package metrics 定义 Prometheus 指标，通过 /metrics 暴露
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RemoteCalls 补全 / 语音合成调用次数，按接口与结果区分
	RemoteCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatmate",
		Name:      "remote_calls_total",
		Help:      "Calls to the completion and speech endpoints.",
	}, []string{"endpoint", "result"})

	// RemoteLatency 补全 / 语音合成调用耗时
	RemoteLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chatmate",
		Name:      "remote_call_duration_seconds",
		Help:      "Latency of completion and speech calls.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
	}, []string{"endpoint"})

	// MessagesPersisted 写入的消息数，按作者区分
	MessagesPersisted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatmate",
		Name:      "messages_persisted_total",
		Help:      "Messages written to the document store.",
	}, []string{"author"})

	// ConnectedClients 当前 WebSocket 连接数
	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatmate",
		Name:      "websocket_clients",
		Help:      "Connected mobile WebSocket clients.",
	})
)

func init() {
	prometheus.MustRegister(RemoteCalls, RemoteLatency, MessagesPersisted, ConnectedClients)
}

// ObserveRemoteCall 记录一次远程调用
func ObserveRemoteCall(endpoint string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	RemoteCalls.WithLabelValues(endpoint, result).Inc()
	RemoteLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// ObserveMessage 记录一条写入的消息
func ObserveMessage(isUser bool) {
	author := "assistant"
	if isUser {
		author = "user"
	}
	MessagesPersisted.WithLabelValues(author).Inc()
}
