// Package config provides configuration management for the signal pipeline.
// This file centralizes all port constants to avoid duplication and ensure consistency.
package config

// ============================================================================
// CENTRALIZED PORT CONFIGURATION
// ============================================================================
//
// This file defines all ports used by the pipeline's services.
// Update this file when adding new services or changing port assignments.
//
// Port Allocation Strategy:
//   8080-8099: API servers and web services
//   8200-8299: Infrastructure services (Vault, etc.)
//   9100-9199: Prometheus metrics endpoints
//
// ============================================================================

// API and Web Service Ports
const (
	// APIServerPort is the port for the main REST API server.
	APIServerPort = 8081

	// WebSocketPort is the port for WebSocket connections (uses same as API).
	WebSocketPort = APIServerPort
)

// Infrastructure Service Ports
const (
	// VaultPort is the default port for HashiCorp Vault.
	VaultPort = 8200

	// PostgresPort is the default port for PostgreSQL.
	PostgresPort = 5432

	// RedisPort is the default port for Redis.
	RedisPort = 6379

	// NATSPort is the default port for NATS messaging.
	NATSPort = 4222
)

// Prometheus Metrics Ports for the pipeline's own services.
// Each service gets a unique port for metrics scraping.
const (
	// MetricsPortGenerator is the metrics port for the generation scheduler.
	MetricsPortGenerator = 9101

	// MetricsPortDistributor is the metrics port for the signal distributor.
	MetricsPortDistributor = 9102

	// MetricsPortExecutor is the metrics port for an executor process.
	// Note: Port 9103 was skipped to maintain gap, 9104 is used.
	MetricsPortExecutor = 9104

	// MetricsPortRiskGuard is the metrics port for the centralizing risk guard.
	MetricsPortRiskGuard = 9105

	// MetricsPortBacktest is the metrics port for a running backtest.
	MetricsPortBacktest = 9106

	// MetricsPortAPI is the metrics port for the REST API.
	// Note: the API serves metrics on its main HTTP port.
	MetricsPortAPI = APIServerPort
)

// Monitoring Service Ports
const (
	// PrometheusPort is the default port for Prometheus.
	PrometheusPort = 9090

	// GrafanaPort is the default port for Grafana.
	GrafanaPort = 3000

	// NATSExporterPort is the port for the NATS Prometheus exporter.
	NATSExporterPort = 7777
)

// ServiceMetricsPorts provides a mapping of service names to their metrics
// ports. This is useful for Prometheus configuration and health checks.
var ServiceMetricsPorts = map[string]int{
	"generator":   MetricsPortGenerator,
	"distributor": MetricsPortDistributor,
	"executor":    MetricsPortExecutor,
	"riskguard":   MetricsPortRiskGuard,
	"backtest":    MetricsPortBacktest,
	"api":         MetricsPortAPI,
}

// GetServiceMetricsPort returns the metrics port for a given service name.
// Returns 0 if the service is not found.
func GetServiceMetricsPort(serviceName string) int {
	if port, ok := ServiceMetricsPorts[serviceName]; ok {
		return port
	}
	return 0
}
