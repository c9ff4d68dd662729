package vsched

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Statistics is a snapshot of the scheduler's submission pipeline and deferred queue
type Statistics struct {
	FrameNumber         uint64
	SubmitCount         uint64
	FinishedSubmitCount uint64
	InFlightSubmits     int
	CommandBufferPairs  int

	PendingResources int
	DeleteResources  int
	FreedResources   uint64

	ActiveResourceContexts int
	RenderSurfaces         int
	RenderPasses           int
}

func (s *Statistics) Clear() {
	*s = Statistics{}
}

// CalculateStatistics fills stats with the current state of the scheduler
func (s *Scheduler) CalculateStatistics(stats *Statistics) {
	s.logger.Debug("Scheduler::CalculateStatistics")

	stats.Clear()
	stats.FrameNumber = s.FrameNumber()
	stats.SubmitCount = s.ring.SubmitCount()
	stats.FinishedSubmitCount = s.ring.FinishedSubmitCount()
	stats.InFlightSubmits = s.ring.InFlight()
	stats.CommandBufferPairs = s.ring.PairCount()

	stats.PendingResources = s.deferred.PendingCount()
	stats.DeleteResources = s.deferred.DeleteCount()
	stats.FreedResources = s.deferred.FreedCount()

	stats.ActiveResourceContexts = s.contexts.ActiveContexts()
	stats.RenderPasses = s.renderPasses.Count()

	s.surfacesMutex.Lock()
	stats.RenderSurfaces = s.surfaces.Count()
	s.surfacesMutex.Unlock()
}

// BuildStatsString produces a JSON document describing the scheduler. If detailed is true, every
// in-flight submission and render surface is listed.
func (s *Scheduler) BuildStatsString(detailed bool) string {
	s.logger.Debug("Scheduler::BuildStatsString")

	var stats Statistics
	s.CalculateStatistics(&stats)

	writer := jwriter.NewWriter()
	objState := writer.Object()

	objState.Name("FrameNumber").Int(int(stats.FrameNumber))
	if err := s.Poisoned(); err != nil {
		objState.Name("Poisoned").String(err.Error())
	}

	totalObj := objState.Name("Total").Object()
	totalObj.Name("SubmitCount").Int(int(stats.SubmitCount))
	totalObj.Name("FinishedSubmitCount").Int(int(stats.FinishedSubmitCount))
	totalObj.Name("InFlightSubmits").Int(stats.InFlightSubmits)
	totalObj.Name("PendingResources").Int(stats.PendingResources)
	totalObj.Name("DeleteResources").Int(stats.DeleteResources)
	totalObj.Name("FreedResources").Int(int(stats.FreedResources))
	totalObj.Name("ActiveResourceContexts").Int(stats.ActiveResourceContexts)
	totalObj.Name("RenderSurfaces").Int(stats.RenderSurfaces)
	totalObj.Name("RenderPasses").Int(stats.RenderPasses)
	totalObj.End()

	if detailed {
		ringObj := objState.Name("Ring").Object()
		s.ring.BuildStatsString(&ringObj)
		ringObj.End()

		s.buildSurfaceStats(&objState)
	}

	objState.End()

	return string(writer.Bytes())
}

func (s *Scheduler) buildSurfaceStats(json *jwriter.ObjectState) {
	s.surfacesMutex.Lock()
	var surfaces []*RenderSurface
	s.surfaces.Iter(func(id uint64, surface *RenderSurface) bool {
		surfaces = append(surfaces, surface)
		return false
	})
	s.surfacesMutex.Unlock()

	arrayState := json.Name("RenderSurfaces").Array()
	defer arrayState.End()

	for _, surface := range surfaces {
		surface.mutex.Lock()

		obj := arrayState.Object()
		obj.Name("Name").String(surface.name)
		obj.Name("Lost").Bool(surface.lost)
		if surface.data != nil {
			obj.Name("Generation").Int(int(surface.data.Generation))
			obj.Name("Width").Int(surface.data.Width)
			obj.Name("Height").Int(surface.data.Height)
			obj.Name("VSync").Bool(surface.data.VSync)
		}
		obj.End()

		surface.mutex.Unlock()
	}
}
