package usecase

import (
	"fmt"
	"sort"

	"tg-archiver/internal/domain"
)

// LoadMetric selects how the distributor measures a session's current load
// when choosing where to place the next group.
type LoadMetric string

const (
	MetricFileCount    LoadMetric = "file_count"
	MetricMessageCount LoadMetric = "message_count"
	MetricSizeEstimate LoadMetric = "size_estimate"
	MetricMixed        LoadMetric = "mixed"
)

const megabyte = 1024 * 1024

// DistributorConfig holds the §4.C/§6 knobs that shape assignment.
type DistributorConfig struct {
	Metric                LoadMetric
	PreferLargeGroupsFirst bool
	SplitThresholdFactor  int // oversized_album_split_threshold = factor * session_count
}

// Distributor groups probed descriptors by album, splits oversized albums,
// and greedily assigns whole groups to sessions so per-session load stays
// balanced.
type Distributor struct {
	cfg DistributorConfig
}

// NewDistributor constructs a Distributor, defaulting an unset split factor
// to 2 (matching spec's oversized_album_split_threshold = 2 * session_count).
func NewDistributor(cfg DistributorConfig) *Distributor {
	if cfg.SplitThresholdFactor <= 0 {
		cfg.SplitThresholdFactor = 2
	}
	if cfg.Metric == "" {
		cfg.Metric = MetricFileCount
	}
	return &Distributor{cfg: cfg}
}

// Distribute builds groups from descs, splits oversized albums, and assigns
// the resulting groups across sessions. sessions must be in a stable,
// deterministic order — the same order given identical input always
// produces a bit-identical Assignment (the determinism law in spec §8).
func (d *Distributor) Distribute(descs []domain.MessageDescriptor, sessions []string) (domain.Assignment, domain.BalanceReport) {
	groups := groupByAlbum(descs)
	groups = d.splitOversized(groups, len(sessions))

	if d.cfg.PreferLargeGroupsFirst {
		sort.SliceStable(groups, func(i, j int) bool {
			return groups[i].FileCount() > groups[j].FileCount()
		})
	}

	loads := make(map[string]float64, len(sessions))
	fileCounts := make(map[string]int, len(sessions))
	assigned := make(map[string][]domain.Group, len(sessions))
	for _, s := range sessions {
		loads[s] = 0
		fileCounts[s] = 0
		assigned[s] = nil
	}

	for _, g := range groups {
		target := d.minLoadSession(sessions, loads)
		assigned[target] = append(assigned[target], g)
		loads[target] += d.metricFor(g)
		fileCounts[target] += g.FileCount()
	}

	assignment := domain.Assignment{BySession: assigned, Order: append([]string(nil), sessions...)}
	return assignment, buildBalanceReport(fileCounts, sessions)
}

func (d *Distributor) minLoadSession(sessions []string, loads map[string]float64) string {
	best := sessions[0]
	bestLoad := loads[best]
	for _, s := range sessions[1:] {
		if loads[s] < bestLoad {
			best = s
			bestLoad = loads[s]
		}
	}
	return best
}

func (d *Distributor) metricFor(g domain.Group) float64 {
	switch d.cfg.Metric {
	case MetricMessageCount:
		return float64(g.MessageCount())
	case MetricSizeEstimate:
		return float64(g.EstimatedSize())
	case MetricMixed:
		return float64(g.FileCount())*0.6 + float64(g.EstimatedSize())/megabyte*0.4
	default:
		return float64(g.FileCount())
	}
}

// groupByAlbum partitions descs (in id-ascending order, as the probe
// produces them) into album groups and singletons.
func groupByAlbum(descs []domain.MessageDescriptor) []domain.Group {
	order := make([]string, 0)
	byAlbum := make(map[string][]domain.MessageDescriptor)

	for _, m := range descs {
		id := m.AlbumID
		isAlbum := m.InAlbum()
		if !isAlbum {
			id = fmt.Sprintf("single:%d", m.ID)
		}
		if _, seen := byAlbum[id]; !seen {
			order = append(order, id)
		}
		byAlbum[id] = append(byAlbum[id], m)
	}

	groups := make([]domain.Group, 0, len(order))
	for _, id := range order {
		members := byAlbum[id]
		groups = append(groups, domain.Group{
			ID:       id,
			IsAlbum:  members[0].InAlbum(),
			Messages: members,
		})
	}
	return groups
}

// splitOversized breaks any album with more than splitThresholdFactor *
// sessionCount members into id-ordered sub-groups of chunk =
// max(2, members/sessionCount), inheriting the parent album id so the
// distributor's invariant #2 (one session per album) still applies to the
// sub-groups.
func (d *Distributor) splitOversized(groups []domain.Group, sessionCount int) []domain.Group {
	if sessionCount <= 0 {
		sessionCount = 1
	}
	threshold := d.cfg.SplitThresholdFactor * sessionCount

	out := make([]domain.Group, 0, len(groups))
	for _, g := range groups {
		if !g.IsAlbum || len(g.Messages) <= threshold {
			out = append(out, g)
			continue
		}

		chunk := len(g.Messages) / sessionCount
		if chunk < 2 {
			chunk = 2
		}

		part := 1
		for i := 0; i < len(g.Messages); i += chunk {
			end := i + chunk
			if end > len(g.Messages) {
				end = len(g.Messages)
			}
			out = append(out, domain.Group{
				ID:       fmt.Sprintf("%s_part_%d", g.ID, part),
				IsAlbum:  true,
				Messages: g.Messages[i:end],
			})
			part++
		}
	}
	return out
}

func buildBalanceReport(fileCounts map[string]int, sessions []string) domain.BalanceReport {
	report := domain.BalanceReport{PerSessionFileCount: fileCounts}
	if len(sessions) == 0 {
		return report
	}

	min, max, sum := -1, 0, 0
	for _, s := range sessions {
		c := fileCounts[s]
		if min == -1 || c < min {
			min = c
		}
		if c > max {
			max = c
		}
		sum += c
	}
	report.Min = min
	report.Max = max
	report.Mean = float64(sum) / float64(len(sessions))
	return report
}
