package chat

import "github.com/prometheus/client_golang/prometheus"

var (
	OpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_open_connections",
		Help: "Number of accepted sockets, authenticated or not",
	})

	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connected_clients",
		Help: "Number of accounts with a live connection bound",
	})

	RegisteredAccounts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_registered_accounts",
		Help: "Number of registered accounts",
	})

	QueuedMessages = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_queued_messages",
		Help: "Messages waiting to be pulled by their recipient",
	})

	DroppedLines = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_dropped_lines_total",
		Help: "Outbound lines dropped because the client was closed or too slow",
	})

	AuthAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_auth_attempts_total",
		Help: "Handshake attempts by verb and result",
	}, []string{"verb", "result"})

	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_commands_total",
		Help: "Total commands processed by type",
	}, []string{"type"})

	CommandProcessingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_command_processing_seconds",
		Help:    "Time to process each command type",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	Snapshots = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_snapshots_total",
		Help: "Registry snapshots written by result",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(OpenConnections)
	prometheus.MustRegister(ConnectedClients)
	prometheus.MustRegister(RegisteredAccounts)
	prometheus.MustRegister(QueuedMessages)
	prometheus.MustRegister(DroppedLines)
	prometheus.MustRegister(AuthAttempts)
	prometheus.MustRegister(CommandsTotal)
	prometheus.MustRegister(CommandProcessingDuration)
	prometheus.MustRegister(Snapshots)
}
