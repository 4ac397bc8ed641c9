// Package config provides configuration parsing for socksync servers.
//
// The configuration is a TOML file, socksync.toml by default. Keys left
// out keep the defaults returned by Default.
//
// # Configuration File Structure
//
//	address = ":8080"
//	path = "/ws"
//	log_level = "info"      # debug|info|warn|error
//	log_format = "text"     # text|json
//	shutdown_timeout = "30s"
//
//	[session]
//	read_timeout = "60s"
//	heartbeat_interval = "30s"
//	messages_per_second = 50.0
//
//	[metrics]
//	enabled = true
//	path = "/metrics"
//
//	[snapshot]
//	backend = "s3"          # memory|s3|none
//	bucket = "my-bucket"
//	interval = "30s"
//
//	[[group]]
//	kind = "var"
//	name = "motd"
//	value = "hello"
//
//	[[group]]
//	kind = "list"
//	name = "todos"
//	page_size = 20
//	snapshot = true
//
//	[[group]]
//	kind = "function"
//	name = "echo"
//	builtin = "echo"
//
// # Usage
//
//	cfg, err := config.Load("socksync.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, w := range cfg.Warnings() {
//	    log.Println("config:", w)
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config
