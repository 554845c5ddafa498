package actions

import "fmt"

// actionEntry is one catalog action: a command template plus the
// collaborator's exit-code convention.
type actionEntry struct {
	summary  string
	required []string
	optional map[string]string
	build    func(p Params) string
	// classify overrides classifyDefault when the collaborator has
	// its own exit-code convention.
	classify func(code int) Classification
}

// probeEntry is one catalog probe. Probes carry no classifier; the
// exit code is read uniformly.
type probeEntry struct {
	summary  string
	required []string
	optional map[string]string
	build    func(p Params) string
}

// Windows installer exit codes surfaced by the endpoint agent MSI.
const (
	msiRebootInitiated = 1641
	msiRebootRequired  = 3010
	msiAlreadyRunning  = 1618
)

// aptLockBusy is apt-get's exit code when dpkg is locked by another
// run; it clears once the other install finishes.
const aptLockBusy = 100

var actionCatalog = map[string]actionEntry{
	"directory.promote": {
		summary:  "provision this host as the lab's directory controller",
		required: []string{"realm", "domain"},
		optional: map[string]string{"admin_password_env": "LABRIG_DC_ADMIN_PASSWORD"},
		build: func(p Params) string {
			return fmt.Sprintf(
				"samba-tool domain provision --use-rfc2307 --realm=%s --domain=%s --server-role=dc --dns-backend=SAMBA_INTERNAL --adminpass=\"$%s\"",
				shQuote(p["realm"]), shQuote(p["domain"]), p["admin_password_env"])
		},
	},
	"database.install": {
		summary:  "install the database server packages",
		optional: map[string]string{"version": "16"},
		build: func(p Params) string {
			return fmt.Sprintf(
				"DEBIAN_FRONTEND=noninteractive apt-get install -y postgresql-%s", p["version"])
		},
		classify: func(code int) Classification {
			switch code {
			case 0:
				return Succeeded
			case aptLockBusy:
				return RetryableFailure
			default:
				return FatalFailure
			}
		},
	},
	"database.create-db": {
		summary:  "create a database owned by the default role",
		required: []string{"name"},
		build: func(p Params) string {
			return fmt.Sprintf("sudo -u postgres createdb %s", shQuote(p["name"]))
		},
	},
	"endpoint.install-agent": {
		summary:  "install the endpoint management agent MSI",
		required: []string{"msi"},
		build: func(p Params) string {
			return fmt.Sprintf("msiexec /i %q /qn /norestart", p["msi"])
		},
		classify: func(code int) Classification {
			switch code {
			case 0:
				return Succeeded
			case msiRebootInitiated, msiRebootRequired:
				return SucceededRebootRequired
			case msiAlreadyRunning:
				return RetryableFailure
			default:
				return FatalFailure
			}
		},
	},
	"network.enable-dhcp": {
		summary:  "enable and start the DHCP server",
		optional: map[string]string{"unit": "isc-dhcp-server"},
		build: func(p Params) string {
			return fmt.Sprintf("systemctl enable --now %s", shQuote(p["unit"]))
		},
	},
	"service.restart": {
		summary:  "restart a systemd unit",
		required: []string{"name"},
		build: func(p Params) string {
			return fmt.Sprintf("systemctl restart %s", shQuote(p["name"]))
		},
	},
	"service.enable": {
		summary:  "enable and start a systemd unit",
		required: []string{"name"},
		build: func(p Params) string {
			return fmt.Sprintf("systemctl enable --now %s", shQuote(p["name"]))
		},
	},
}

var probeCatalog = map[string]probeEntry{
	"directory.promoted": {
		summary: "directory controller answers domain queries",
		build: func(Params) string {
			return "samba-tool domain level show"
		},
	},
	"directory.replicated": {
		summary: "directory replication reports no failures",
		build: func(Params) string {
			return "samba-tool drs showrepl"
		},
	},
	"directory.dns-ready": {
		summary:  "directory DNS serves the lab zone",
		required: []string{"zone"},
		optional: map[string]string{"server": "127.0.0.1"},
		build: func(p Params) string {
			return fmt.Sprintf("host -t SOA %s %s", shQuote(p["zone"]), shQuote(p["server"]))
		},
	},
	"database.ready": {
		summary: "database server accepts connections",
		build: func(Params) string {
			return "pg_isready -q"
		},
	},
	"database.has-db": {
		summary:  "named database exists",
		required: []string{"name"},
		build: func(p Params) string {
			return fmt.Sprintf(
				"sudo -u postgres psql -tAc \"SELECT 1 FROM pg_database WHERE datname = '%s'\" | grep -q 1",
				p["name"])
		},
	},
	"endpoint.enrolled": {
		summary:  "endpoint agent service is running",
		optional: map[string]string{"service": "LabAgent"},
		build: func(p Params) string {
			return fmt.Sprintf("sc query %q | find \"RUNNING\"", p["service"])
		},
	},
	"network.port-open": {
		summary:  "TCP port accepts connections",
		required: []string{"host", "port"},
		build: func(p Params) string {
			return fmt.Sprintf("nc -z -w3 %s %s", shQuote(p["host"]), shQuote(p["port"]))
		},
	},
	"service.active": {
		summary:  "systemd unit is active",
		required: []string{"name"},
		build: func(p Params) string {
			return fmt.Sprintf("systemctl is-active --quiet %s", shQuote(p["name"]))
		},
	},
}
