package infra

import (
	"strings"

	"telemetry-gateway/middleware/telemetry/domain"
)

// Keyspace monta as chaves do Redis. Trechos entre {} são hash tags: em
// Redis Cluster mantêm no mesmo slot as chaves tocadas pelo mesmo script.
type Keyspace struct {
	Prefix string
}

func NewKeyspace(prefix string) Keyspace {
	prefix = strings.Trim(prefix, ":")
	if prefix == "" {
		prefix = "telemetry"
	}
	return Keyspace{Prefix: prefix}
}

func (k Keyspace) join(parts ...string) string {
	return k.Prefix + ":" + strings.Join(parts, ":")
}

func (k Keyspace) limiterTag(class domain.LimitClass, subject string) string {
	return "{" + string(class) + ":" + subject + "}"
}

func (k Keyspace) LimiterHits(class domain.LimitClass, subject string) string {
	return k.join("rl", k.limiterTag(class, subject), "hits")
}

func (k Keyspace) LimiterBlock(class domain.LimitClass, subject string) string {
	return k.join("rl", k.limiterTag(class, subject), "block")
}

func (k Keyspace) LimiterViolations(class domain.LimitClass, subject string) string {
	return k.join("rl", k.limiterTag(class, subject), "violations")
}

func (k Keyspace) BufferActive() string { return k.join("{buffer}", "active") }

func (k Keyspace) BufferDraining() string { return k.join("{buffer}", "draining") }

// BufferBatchPrefix termina em ":"; o id do lote é concatenado dentro do script.
func (k Keyspace) BufferBatchPrefix() string { return k.join("{buffer}", "batch") + ":" }

func (k Keyspace) BufferBatch(id string) string { return k.BufferBatchPrefix() + id }

func (k Keyspace) Leaderboard(g domain.Granularity, period string) string {
	return k.join("leaderboard", string(g), period)
}

func (k Keyspace) StatsResources(subject, day string) string {
	return k.join("stats", "{"+subject+"}", "resources", day)
}

func (k Keyspace) StatsBytes(subject, day string) string {
	return k.join("stats", "{"+subject+"}", "bytes", day)
}

func (k Keyspace) StatsWrites(subject, day string) string {
	return k.join("stats", "{"+subject+"}", "writes", day)
}

func (k Keyspace) Alerts(subject string) string {
	return k.join("alerts", "{"+subject+"}")
}

func (k Keyspace) AlertDedupe(subject string, kind domain.AlertKind, day string) string {
	return k.join("alerts", "{"+subject+"}", "dedupe", string(kind), day)
}

func (k Keyspace) FlushLock() string { return k.join("flush", "lock") }

func (k Keyspace) AdmissionBucket(class domain.LimitClass, minute string) string {
	return k.join("admission", string(class), "minute", minute)
}

func (k Keyspace) AdmissionTotal() string { return k.join("admission", "total") }

func (k Keyspace) AdmissionSubject(subject string) string {
	return k.join("admission", "key", subject)
}
