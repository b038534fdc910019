package usecase

import (
	"fmt"
	"reflect"
	"testing"

	"tg-archiver/internal/domain"
)

func photoDesc(id int, albumID string) domain.MessageDescriptor {
	return domain.MessageDescriptor{ID: id, AlbumID: albumID, Kind: domain.KindPhoto, SizeEstimate: domain.EstimatePhoto}
}

func TestGroupByAlbumPartitionsSinglesAndAlbums(t *testing.T) {
	descs := []domain.MessageDescriptor{
		photoDesc(1, ""),
		photoDesc(2, "a1"),
		photoDesc(3, "a1"),
		photoDesc(4, ""),
	}
	groups := groupByAlbum(descs)
	if len(groups) != 3 {
		t.Fatalf("len(groups) = %d, want 3", len(groups))
	}
	if groups[0].IsAlbum || groups[0].Messages[0].ID != 1 {
		t.Errorf("groups[0] should be the singleton for id 1, got %+v", groups[0])
	}
	if !groups[1].IsAlbum || len(groups[1].Messages) != 2 {
		t.Errorf("groups[1] should be the 2-member album, got %+v", groups[1])
	}
}

func TestDistributeIsDeterministic(t *testing.T) {
	descs := make([]domain.MessageDescriptor, 0)
	for i := 1; i <= 50; i++ {
		descs = append(descs, photoDesc(i, ""))
	}
	sessions := []string{"s1", "s2", "s3"}
	d := NewDistributor(DistributorConfig{})

	a1, b1 := d.Distribute(descs, sessions)
	a2, b2 := d.Distribute(descs, sessions)

	if !reflect.DeepEqual(a1, a2) {
		t.Errorf("Distribute is not deterministic: %+v != %+v", a1, a2)
	}
	if !reflect.DeepEqual(b1, b2) {
		t.Errorf("BalanceReport is not deterministic: %+v != %+v", b1, b2)
	}
}

func TestDistributeBalancesLoadAcrossSessions(t *testing.T) {
	descs := make([]domain.MessageDescriptor, 0)
	for i := 1; i <= 30; i++ {
		descs = append(descs, photoDesc(i, ""))
	}
	sessions := []string{"s1", "s2", "s3"}
	d := NewDistributor(DistributorConfig{Metric: MetricFileCount})

	assignment, balance := d.Distribute(descs, sessions)

	total := 0
	for _, s := range sessions {
		total += len(assignment.GroupsFor(s))
	}
	if total != 30 {
		t.Fatalf("total assigned groups = %d, want 30", total)
	}
	if balance.Max-balance.Min > 1 {
		t.Errorf("load imbalance too high: min=%d max=%d", balance.Min, balance.Max)
	}
}

func TestDistributeKeepsOneAlbumOnOneSession(t *testing.T) {
	descs := []domain.MessageDescriptor{
		photoDesc(1, "album1"),
		photoDesc(2, "album1"),
		photoDesc(3, "album1"),
	}
	sessions := []string{"s1", "s2", "s3"}
	d := NewDistributor(DistributorConfig{})

	assignment, _ := d.Distribute(descs, sessions)

	owners := 0
	for _, s := range sessions {
		if len(assignment.GroupsFor(s)) > 0 {
			owners++
		}
	}
	if owners != 1 {
		t.Errorf("album split across %d sessions, want exactly 1", owners)
	}
}

func TestSplitOversizedAlbum(t *testing.T) {
	members := make([]domain.MessageDescriptor, 0, 20)
	for i := 1; i <= 20; i++ {
		members = append(members, photoDesc(i, "big"))
	}
	groups := []domain.Group{{ID: "big", IsAlbum: true, Messages: members}}

	d := NewDistributor(DistributorConfig{SplitThresholdFactor: 2})
	sessionCount := 3 // threshold = 6, 20 > 6, so it must split

	out := d.splitOversized(groups, sessionCount)
	if len(out) <= 1 {
		t.Fatalf("expected the oversized album to split into multiple groups, got %d", len(out))
	}

	total := 0
	for i, g := range out {
		if !g.IsAlbum {
			t.Errorf("sub-group %d should still be IsAlbum", i)
		}
		want := fmt.Sprintf("big_part_%d", i+1)
		if g.ID != want {
			t.Errorf("sub-group %d ID = %q, want %q", i, g.ID, want)
		}
		if len(g.Messages) < 2 {
			t.Errorf("sub-group %d has %d members, want >= 2", i, len(g.Messages))
		}
		total += len(g.Messages)
	}
	if total != 20 {
		t.Errorf("total members after split = %d, want 20", total)
	}
}

func TestSplitOversizedLeavesSmallAlbumsAlone(t *testing.T) {
	members := []domain.MessageDescriptor{photoDesc(1, "small"), photoDesc(2, "small")}
	groups := []domain.Group{{ID: "small", IsAlbum: true, Messages: members}}

	d := NewDistributor(DistributorConfig{SplitThresholdFactor: 2})
	out := d.splitOversized(groups, 3)

	if len(out) != 1 {
		t.Fatalf("small album should not split, got %d groups", len(out))
	}
	if out[0].ID != "small" {
		t.Errorf("group ID changed to %q, want unchanged %q", out[0].ID, "small")
	}
}

func TestMetricForVariants(t *testing.T) {
	g := domain.Group{Messages: []domain.MessageDescriptor{
		{ID: 1, Kind: domain.KindPhoto, SizeEstimate: 2 * megabyte},
		{ID: 2, Kind: domain.KindText, SizeEstimate: 0},
	}}

	fileCount := (&Distributor{cfg: DistributorConfig{Metric: MetricFileCount}}).metricFor(g)
	if fileCount != 1 {
		t.Errorf("MetricFileCount = %v, want 1", fileCount)
	}

	msgCount := (&Distributor{cfg: DistributorConfig{Metric: MetricMessageCount}}).metricFor(g)
	if msgCount != 2 {
		t.Errorf("MetricMessageCount = %v, want 2", msgCount)
	}

	size := (&Distributor{cfg: DistributorConfig{Metric: MetricSizeEstimate}}).metricFor(g)
	if size != 2*megabyte {
		t.Errorf("MetricSizeEstimate = %v, want %v", size, 2*megabyte)
	}

	mixed := (&Distributor{cfg: DistributorConfig{Metric: MetricMixed}}).metricFor(g)
	wantMixed := 1*0.6 + 2*0.4
	if mixed != wantMixed {
		t.Errorf("MetricMixed = %v, want %v", mixed, wantMixed)
	}
}

func TestBuildBalanceReportEmptySessions(t *testing.T) {
	report := buildBalanceReport(map[string]int{}, nil)
	if report.Min != 0 || report.Max != 0 || report.Mean != 0 {
		t.Errorf("empty sessions should produce a zero report, got %+v", report)
	}
}
