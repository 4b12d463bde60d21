// Copyright 2025 Certen Protocol
//
// Prometheus metrics for the consensus core.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/gauge this process exports. Constructed
// once at startup and threaded through pkg/consensus, pkg/pool,
// pkg/blockstore, and pkg/crossshard.
type Metrics struct {
	VotesCast           prometheus.Counter
	ProposalsDrafted    prometheus.Counter
	QuorumCertsFormed   prometheus.Counter
	BlocksCommitted     prometheus.Counter
	BlocksPruned        prometheus.Counter
	NoVotes             *prometheus.CounterVec
	PoolStageTransitions *prometheus.CounterVec
	PoolReadySetSize    prometheus.Gauge
	EvidenceUpdates     prometheus.Counter
	EvidenceRegressions prometheus.Counter
	ForeignProposalsParked prometheus.Gauge
	SubstateLocksHeld   prometheus.Gauge
	ViewTimeouts        prometheus.Counter
	EpochsEnded         prometheus.Counter
	NodesEvicted        prometheus.Counter
	ConfidentialOutputsMinted prometheus.Counter
}

// New registers and returns a Metrics instance against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		VotesCast: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "validator",
			Subsystem: "consensus",
			Name:      "votes_cast_total",
			Help:      "Number of votes this node has cast.",
		}),
		ProposalsDrafted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "validator",
			Subsystem: "consensus",
			Name:      "proposals_drafted_total",
			Help:      "Number of blocks this node has proposed as leader.",
		}),
		QuorumCertsFormed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "validator",
			Subsystem: "consensus",
			Name:      "quorum_certificates_formed_total",
			Help:      "Number of quorum certificates this node has assembled.",
		}),
		BlocksCommitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "validator",
			Subsystem: "blockstore",
			Name:      "blocks_committed_total",
			Help:      "Number of blocks committed by the three-chain commit rule.",
		}),
		BlocksPruned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "validator",
			Subsystem: "blockstore",
			Name:      "blocks_pruned_total",
			Help:      "Number of non-committed sibling blocks pruned after fork resolution.",
		}),
		NoVotes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "validator",
			Subsystem: "consensus",
			Name:      "no_votes_total",
			Help:      "Number of times this node declined to vote, by reason code.",
		}, []string{"reason"}),
		PoolStageTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "validator",
			Subsystem: "pool",
			Name:      "stage_transitions_total",
			Help:      "Number of pool entry stage transitions, by destination stage.",
		}, []string{"stage"}),
		PoolReadySetSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "validator",
			Subsystem: "pool",
			Name:      "ready_set_size",
			Help:      "Current number of ready transactions awaiting block inclusion.",
		}),
		EvidenceUpdates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "validator",
			Subsystem: "pool",
			Name:      "evidence_updates_total",
			Help:      "Number of evidence merges applied across pooled transactions.",
		}),
		EvidenceRegressions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "validator",
			Subsystem: "pool",
			Name:      "evidence_regressions_total",
			Help:      "Number of evidence merges rejected for violating monotonic refinement.",
		}),
		ForeignProposalsParked: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "validator",
			Subsystem: "crossshard",
			Name:      "foreign_proposals_parked",
			Help:      "Current number of foreign proposals parked on a missing transaction.",
		}),
		SubstateLocksHeld: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "validator",
			Subsystem: "substate",
			Name:      "locks_held",
			Help:      "Current number of outstanding substate locks.",
		}),
		ViewTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "validator",
			Subsystem: "consensus",
			Name:      "view_timeouts_total",
			Help:      "Number of view timeouts triggering a NewView.",
		}),
		EpochsEnded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "validator",
			Subsystem: "blockstore",
			Name:      "epochs_ended_total",
			Help:      "Number of EndEpoch commands committed.",
		}),
		NodesEvicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "validator",
			Subsystem: "blockstore",
			Name:      "nodes_evicted_total",
			Help:      "Number of EvictNode commands committed.",
		}),
		ConfidentialOutputsMinted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "validator",
			Subsystem: "blockstore",
			Name:      "confidential_outputs_minted_total",
			Help:      "Number of MintConfidentialOutput commands committed.",
		}),
	}
}
