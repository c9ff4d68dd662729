package vsched

import (
	"github.com/cockroachdb/errors"
)

const (
	// WholeSize covers the rest of a buffer from the barrier's offset
	WholeSize uint64 = ^uint64(0)
	// RemainingCount covers the rest of an image's mip levels or array layers
	RemainingCount uint32 = ^uint32(0)

	defaultBarrierLookback int = 8
)

// BufferBarrier orders accesses to a byte range of a buffer
type BufferBarrier struct {
	Resource  *Resource
	SrcAccess AccessFlags
	DstAccess AccessFlags
	Offset    uint64
	Size      uint64
}

// ImageSubresourceRange selects the mip levels and array layers of an image a barrier applies to
type ImageSubresourceRange struct {
	Aspect         ImageAspectFlags
	BaseMipLevel   uint32
	LevelCount     uint32
	BaseArrayLayer uint32
	LayerCount     uint32
}

// ImageBarrier orders accesses to a subresource range of an image and optionally transitions its layout
type ImageBarrier struct {
	Resource  *Resource
	SrcAccess AccessFlags
	DstAccess AccessFlags
	OldLayout ImageLayout
	NewLayout ImageLayout
	Range     ImageSubresourceRange
}

func rangeEnd(start, count uint64) uint64 {
	end := start + count
	if end < start {
		return ^uint64(0)
	}
	return end
}

func rangesOverlap(aStart, aCount, bStart, bCount uint64) bool {
	return aStart < rangeEnd(bStart, bCount) && bStart < rangeEnd(aStart, aCount)
}

func rangeUnion(aStart, aCount, bStart, bCount uint64) (uint64, uint64) {
	start := aStart
	if bStart < start {
		start = bStart
	}

	end := rangeEnd(aStart, aCount)
	if bEnd := rangeEnd(bStart, bCount); bEnd > end {
		end = bEnd
	}

	if end == ^uint64(0) {
		return start, end
	}
	return start, end - start
}

func countFromUint32(count uint32) uint64 {
	if count == RemainingCount {
		return ^uint64(0)
	}
	return uint64(count)
}

func countToUint32(count uint64) uint32 {
	if count >= uint64(RemainingCount) {
		return RemainingCount
	}
	return uint32(count)
}

func rangeContains(outerStart, outerCount, innerStart, innerCount uint64) bool {
	return outerStart <= innerStart && rangeEnd(innerStart, innerCount) <= rangeEnd(outerStart, outerCount)
}

type barrierEntry struct {
	isImage bool
	buffer  BufferBarrier
	image   ImageBarrier
}

// mergeBuffer folds a buffer barrier into this entry if the two cover overlapping bytes of the same
// buffer. The union of two overlapping byte ranges is a single range, so the merged barrier covers
// exactly what both requests covered.
func (e *barrierEntry) mergeBuffer(barrier *BufferBarrier) bool {
	if e.isImage || e.buffer.Resource != barrier.Resource {
		return false
	}

	if !rangesOverlap(e.buffer.Offset, e.buffer.Size, barrier.Offset, barrier.Size) {
		return false
	}

	e.buffer.Offset, e.buffer.Size = rangeUnion(e.buffer.Offset, e.buffer.Size, barrier.Offset, barrier.Size)
	e.buffer.SrcAccess |= barrier.SrcAccess
	e.buffer.DstAccess |= barrier.DstAccess
	return true
}

// mergeImage folds an image barrier into this entry when both transition the same layouts and the
// union of their subresource ranges can be described by a single range. Ranges whose union is not
// a box are left as separate barriers so that no subresource is transitioned that wasn't requested.
func (e *barrierEntry) mergeImage(barrier *ImageBarrier) bool {
	if !e.isImage || e.image.Resource != barrier.Resource {
		return false
	}

	if e.image.OldLayout != barrier.OldLayout || e.image.NewLayout != barrier.NewLayout {
		return false
	}

	current := &e.image.Range
	incoming := &barrier.Range

	curMipStart, curMipCount := uint64(current.BaseMipLevel), countFromUint32(current.LevelCount)
	curLayerStart, curLayerCount := uint64(current.BaseArrayLayer), countFromUint32(current.LayerCount)
	inMipStart, inMipCount := uint64(incoming.BaseMipLevel), countFromUint32(incoming.LevelCount)
	inLayerStart, inLayerCount := uint64(incoming.BaseArrayLayer), countFromUint32(incoming.LayerCount)

	if !rangesOverlap(curMipStart, curMipCount, inMipStart, inMipCount) ||
		!rangesOverlap(curLayerStart, curLayerCount, inLayerStart, inLayerCount) {
		return false
	}

	sameMips := curMipStart == inMipStart && curMipCount == inMipCount
	sameLayers := curLayerStart == inLayerStart && curLayerCount == inLayerCount

	switch {
	case current.Aspect != incoming.Aspect:
		if !sameMips || !sameLayers {
			return false
		}
		current.Aspect |= incoming.Aspect
	case rangeContains(curMipStart, curMipCount, inMipStart, inMipCount) &&
		rangeContains(curLayerStart, curLayerCount, inLayerStart, inLayerCount):
		// Already covered
	case rangeContains(inMipStart, inMipCount, curMipStart, curMipCount) &&
		rangeContains(inLayerStart, inLayerCount, curLayerStart, curLayerCount):
		*current = *incoming
	case sameMips:
		start, count := rangeUnion(curLayerStart, curLayerCount, inLayerStart, inLayerCount)
		current.BaseArrayLayer = uint32(start)
		current.LayerCount = countToUint32(count)
	case sameLayers:
		start, count := rangeUnion(curMipStart, curMipCount, inMipStart, inMipCount)
		current.BaseMipLevel = uint32(start)
		current.LevelCount = countToUint32(count)
	default:
		return false
	}

	e.image.SrcAccess |= barrier.SrcAccess
	e.image.DstAccess |= barrier.DstAccess
	return true
}

// BarrierBatch collects barrier requests between two barrier boundaries so they can be emitted with a
// single pipeline barrier command. Each request is compared against the most recent entries in the
// batch and merged into the first compatible one, so that repeated requests for the same range
// collapse into one barrier carrying the union of their access masks.
//
// BarrierBatch is not synchronized: Recording guards it.
type BarrierBatch struct {
	lookback  int
	entries   []barrierEntry
	srcStages PipelineStageFlags
	dstStages PipelineStageFlags
}

// Init sets the number of recent entries each request is compared against. A lookback of 0
// uses the default of 8.
func (b *BarrierBatch) Init(lookback int) {
	if lookback <= 0 {
		lookback = defaultBarrierLookback
	}
	b.lookback = lookback
}

func (b *BarrierBatch) Len() int {
	return len(b.entries)
}

func (b *BarrierBatch) windowStart() int {
	start := len(b.entries) - b.lookback
	if start < 0 {
		return 0
	}
	return start
}

// RequestBufferBarrier adds a buffer barrier to the batch
func (b *BarrierBatch) RequestBufferBarrier(srcStages, dstStages PipelineStageFlags, barrier BufferBarrier) error {
	if barrier.Resource == nil {
		return errors.New("buffer barrier requested without a resource")
	}
	if barrier.Size == 0 {
		return errors.Newf("buffer barrier requested for resource %s with a size of 0", barrier.Resource.name)
	}

	b.srcStages |= srcStages
	b.dstStages |= dstStages

	for i := len(b.entries) - 1; i >= b.windowStart(); i-- {
		if b.entries[i].mergeBuffer(&barrier) {
			return nil
		}
	}

	b.entries = append(b.entries, barrierEntry{buffer: barrier})
	return nil
}

// RequestImageBarrier adds an image barrier to the batch
func (b *BarrierBatch) RequestImageBarrier(srcStages, dstStages PipelineStageFlags, barrier ImageBarrier) error {
	if barrier.Resource == nil {
		return errors.New("image barrier requested without a resource")
	}
	if barrier.Range.LevelCount == 0 || barrier.Range.LayerCount == 0 {
		return errors.Newf("image barrier requested for resource %s with an empty subresource range", barrier.Resource.name)
	}

	b.srcStages |= srcStages
	b.dstStages |= dstStages

	for i := len(b.entries) - 1; i >= b.windowStart(); i-- {
		if b.entries[i].mergeImage(&barrier) {
			return nil
		}
	}

	b.entries = append(b.entries, barrierEntry{isImage: true, image: barrier})
	return nil
}

// Flush emits every batched barrier into the command buffer with a single pipeline barrier command
// and empties the batch. Flushing an empty batch does nothing.
func (b *BarrierBatch) Flush(commandBuffer CommandBuffer) error {
	if len(b.entries) == 0 {
		return nil
	}

	var buffers []BufferBarrier
	var images []ImageBarrier
	for i := range b.entries {
		if b.entries[i].isImage {
			images = append(images, b.entries[i].image)
		} else {
			buffers = append(buffers, b.entries[i].buffer)
		}
	}

	srcStages, dstStages := b.srcStages, b.dstStages
	if srcStages == 0 {
		srcStages = PipelineStageAllCommands
	}
	if dstStages == 0 {
		dstStages = PipelineStageAllCommands
	}

	b.Clear()

	err := commandBuffer.PipelineBarrier(srcStages, dstStages, buffers, images)
	if err != nil {
		return errors.Wrap(err, "failed to record pipeline barrier")
	}

	return nil
}

// Clear discards every batched barrier without emitting them
func (b *BarrierBatch) Clear() {
	b.entries = b.entries[:0]
	b.srcStages = 0
	b.dstStages = 0
}
