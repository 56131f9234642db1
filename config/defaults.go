package config

import "time"

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		Node:         DefaultNodeConfig(),
		Server:       DefaultServerConfig(),
		Consensus:    DefaultConsensusConfig(),
		Coordination: DefaultCoordinationConfig(),
		Redis:        DefaultRedisConfig(),
		Snapshot:     DefaultSnapshotConfig(),
		Log:          DefaultLogConfig(),
		Telemetry:    DefaultTelemetryConfig(),
	}
}

// DefaultNodeConfig returns default local node settings.
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		ID:               "",
		Type:             "auxiliary",
		Capabilities:     nil,
		StateUpdateRate:  10,
		StateUpdateBurst: 20,
	}
}

// DefaultServerConfig returns default HTTP server settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultConsensusConfig returns default voting settings.
func DefaultConsensusConfig() ConsensusConfig {
	return ConsensusConfig{
		VotingDuration:        30 * time.Minute,
		RequiredParticipation: 0.6,
		ConsensusThreshold:    0.7,
		SweepInterval:         30 * time.Second,
		HistorySize:           100,
	}
}

// DefaultCoordinationConfig returns default orchestration settings.
func DefaultCoordinationConfig() CoordinationConfig {
	return CoordinationConfig{
		GraceDelay:         2 * time.Second,
		MinCapacity:        0.1,
		ProgressThreshold:  0.8,
		AgreementThreshold: 0.6,
		TimeoutPenalty:     0.5,
		DefaultDuration:    5 * time.Minute,
		HistorySize:        100,
	}
}

// DefaultRedisConfig returns default redis settings.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		Password:  "",
		DB:        0,
		KeyPrefix: "meshweave:",
	}
}

// DefaultSnapshotConfig returns default snapshot settings.
func DefaultSnapshotConfig() SnapshotConfig {
	return SnapshotConfig{
		Enabled:  false,
		Backend:  "memory",
		Path:     "meshweave-snapshot.json",
		Interval: time.Minute,
	}
}

// DefaultLogConfig returns default logging settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultTelemetryConfig returns default telemetry settings.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "meshweave",
		SampleRate:   0.1,
	}
}
