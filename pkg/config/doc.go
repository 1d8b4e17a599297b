/*
Package config loads and validates HiveSync server configuration.

Configuration is layered: compiled-in defaults, then an optional YAML file,
then command-line flags applied by cmd/hivesync. Load returns the defaults
when no path is given, so a bare `hivesync serve` works out of the box.

# Usage

	cfg, err := config.Load("/etc/hivesync/config.yaml")
	if err != nil {
		return err
	}

Example file:

	server:
	  listen: ":8080"
	storage:
	  driver: bolt
	  dataDir: /var/lib/hivesync
	broadcast:
	  redisAddr: localhost:6379
	  channelPrefix: "hivesync:"
	stream:
	  pollInterval: 2s
	  heartbeatInterval: 30s
	acks:
	  defaultDeadline: 1h
	  sweepInterval: 1m
	auth:
	  mode: none
	log:
	  level: info
	  json: false

Durations are written in Go notation ("500ms", "30s", "1h"). Validation runs
on every Load; cmd/hivesync re-validates after applying flag overrides.

# Notable Settings

  - storage.driver: "bolt" (embedded, default) or "postgres"
  - broadcast.redisAddr: empty keeps fan-out in-process; set to bridge
    broadcasts across instances
  - acks.sweepInterval: 0s disables the expiry sweeper
  - rateLimit.requestsPerSecond: 0 disables rate limiting
  - auth.mode: "none" trusts X-User-Id when allowUserHeader is set;
    "jwt" validates HS256 bearer tokens

# See Also

  - cmd/hivesync for flag overrides
  - pkg/api for how server settings are applied
*/
package config
