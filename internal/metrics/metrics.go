package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	SamplesReceived     atomic.Int64
	SamplesDropped      atomic.Int64
	QualityRejects      atomic.Int64
	ImplausibleRejects  atomic.Int64
	OverspeedEmissions  atomic.Int64
	ZoneEmissions       atomic.Int64
	EventsEmitted       atomic.Int64
	DBWriteSuccess      atomic.Int64
	DBWriteFailures     atomic.Int64
	DBChannelDrops      atomic.Int64
	PublishChannelDrops atomic.Int64
	StateChannelDrops   atomic.Int64
	CommandsApplied     atomic.Int64
	CommandsStale       atomic.Int64
	CommandsFailed      atomic.Int64
	CommandChannelDrops atomic.Int64
	ZoneBuildFailures   atomic.Int64
	ContainmentFailures atomic.Int64
	ActiveSessions      atomic.Int64
)

func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "geotrack_samples_received_total %d\n", SamplesReceived.Load())
	fmt.Fprintf(w, "geotrack_samples_dropped_total %d\n", SamplesDropped.Load())
	fmt.Fprintf(w, "geotrack_quality_rejects_total %d\n", QualityRejects.Load())
	fmt.Fprintf(w, "geotrack_implausible_rejects_total %d\n", ImplausibleRejects.Load())
	fmt.Fprintf(w, "geotrack_overspeed_window_emissions_total %d\n", OverspeedEmissions.Load())
	fmt.Fprintf(w, "geotrack_zone_window_emissions_total %d\n", ZoneEmissions.Load())
	fmt.Fprintf(w, "geotrack_events_emitted_total %d\n", EventsEmitted.Load())
	fmt.Fprintf(w, "geotrack_db_write_success_total %d\n", DBWriteSuccess.Load())
	fmt.Fprintf(w, "geotrack_db_write_failures_total %d\n", DBWriteFailures.Load())
	fmt.Fprintf(w, "geotrack_db_channel_drops_total %d\n", DBChannelDrops.Load())
	fmt.Fprintf(w, "geotrack_publish_channel_drops_total %d\n", PublishChannelDrops.Load())
	fmt.Fprintf(w, "geotrack_state_channel_drops_total %d\n", StateChannelDrops.Load())
	fmt.Fprintf(w, "geotrack_commands_applied_total %d\n", CommandsApplied.Load())
	fmt.Fprintf(w, "geotrack_commands_stale_total %d\n", CommandsStale.Load())
	fmt.Fprintf(w, "geotrack_commands_failed_total %d\n", CommandsFailed.Load())
	fmt.Fprintf(w, "geotrack_command_channel_drops_total %d\n", CommandChannelDrops.Load())
	fmt.Fprintf(w, "geotrack_zone_build_failures_total %d\n", ZoneBuildFailures.Load())
	fmt.Fprintf(w, "geotrack_containment_failures_total %d\n", ContainmentFailures.Load())
	fmt.Fprintf(w, "geotrack_active_sessions %d\n", ActiveSessions.Load())
}
