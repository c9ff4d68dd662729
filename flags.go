package vsched

import "github.com/vkngwrapper/core/v2/common"

// ResourceKind identifies what sort of GPU object a tracked Resource stands in for
type ResourceKind byte

const (
	ResourceKindBuffer ResourceKind = iota
	ResourceKindTexture
	ResourceKindCopyImage
	ResourceKindRenderbuffer
	ResourceKindFramebuffer
	ResourceKindRenderPass
	ResourceKindRenderSurface
	ResourceKindQueryPool
	ResourceKindFence
)

var resourceKindMapping = make(map[ResourceKind]string)

func (k ResourceKind) String() string {
	return resourceKindMapping[k]
}

func init() {
	resourceKindMapping[ResourceKindBuffer] = "ResourceKindBuffer"
	resourceKindMapping[ResourceKindTexture] = "ResourceKindTexture"
	resourceKindMapping[ResourceKindCopyImage] = "ResourceKindCopyImage"
	resourceKindMapping[ResourceKindRenderbuffer] = "ResourceKindRenderbuffer"
	resourceKindMapping[ResourceKindFramebuffer] = "ResourceKindFramebuffer"
	resourceKindMapping[ResourceKindRenderPass] = "ResourceKindRenderPass"
	resourceKindMapping[ResourceKindRenderSurface] = "ResourceKindRenderSurface"
	resourceKindMapping[ResourceKindQueryPool] = "ResourceKindQueryPool"
	resourceKindMapping[ResourceKindFence] = "ResourceKindFence"
}

// AccessFlags describes the memory accesses a barrier orders. The bit values match
// VkAccessFlagBits so the vulkan package can convert them directly.
type AccessFlags int32

var accessFlagsMapping = common.NewFlagStringMapping[AccessFlags]()

func (f AccessFlags) Register(str string) {
	accessFlagsMapping.Register(f, str)
}
func (f AccessFlags) String() string {
	return accessFlagsMapping.FlagsToString(f)
}

const (
	AccessIndirectCommandRead AccessFlags = 1 << iota
	AccessIndexRead
	AccessVertexAttributeRead
	AccessUniformRead
	AccessInputAttachmentRead
	AccessShaderRead
	AccessShaderWrite
	AccessColorAttachmentRead
	AccessColorAttachmentWrite
	AccessDepthStencilAttachmentRead
	AccessDepthStencilAttachmentWrite
	AccessTransferRead
	AccessTransferWrite
	AccessHostRead
	AccessHostWrite
	AccessMemoryRead
	AccessMemoryWrite
)

// PipelineStageFlags describes the pipeline stages a barrier synchronizes. The bit values match
// VkPipelineStageFlagBits.
type PipelineStageFlags int32

var pipelineStageFlagsMapping = common.NewFlagStringMapping[PipelineStageFlags]()

func (f PipelineStageFlags) Register(str string) {
	pipelineStageFlagsMapping.Register(f, str)
}
func (f PipelineStageFlags) String() string {
	return pipelineStageFlagsMapping.FlagsToString(f)
}

const (
	PipelineStageTopOfPipe PipelineStageFlags = 1 << iota
	PipelineStageDrawIndirect
	PipelineStageVertexInput
	PipelineStageVertexShader
	PipelineStageTessellationControlShader
	PipelineStageTessellationEvaluationShader
	PipelineStageGeometryShader
	PipelineStageFragmentShader
	PipelineStageEarlyFragmentTests
	PipelineStageLateFragmentTests
	PipelineStageColorAttachmentOutput
	PipelineStageComputeShader
	PipelineStageTransfer
	PipelineStageBottomOfPipe
	PipelineStageHost
	PipelineStageAllGraphics
	PipelineStageAllCommands
)

// ImageAspectFlags selects the aspects of an image a barrier applies to. The bit values match
// VkImageAspectFlagBits.
type ImageAspectFlags int32

var imageAspectFlagsMapping = common.NewFlagStringMapping[ImageAspectFlags]()

func (f ImageAspectFlags) Register(str string) {
	imageAspectFlagsMapping.Register(f, str)
}
func (f ImageAspectFlags) String() string {
	return imageAspectFlagsMapping.FlagsToString(f)
}

const (
	ImageAspectColor ImageAspectFlags = 1 << iota
	ImageAspectDepth
	ImageAspectStencil
)

// ImageLayout is the layout an image is transitioned between. The values match VkImageLayout.
type ImageLayout int32

const (
	ImageLayoutUndefined                     ImageLayout = 0
	ImageLayoutGeneral                       ImageLayout = 1
	ImageLayoutColorAttachmentOptimal        ImageLayout = 2
	ImageLayoutDepthStencilAttachmentOptimal ImageLayout = 3
	ImageLayoutDepthStencilReadOnlyOptimal   ImageLayout = 4
	ImageLayoutShaderReadOnlyOptimal         ImageLayout = 5
	ImageLayoutTransferSrcOptimal            ImageLayout = 6
	ImageLayoutTransferDstOptimal            ImageLayout = 7
	ImageLayoutPreinitialized                ImageLayout = 8
	ImageLayoutPresentSrc                    ImageLayout = 1000001002
)

var imageLayoutMapping = make(map[ImageLayout]string)

func (l ImageLayout) String() string {
	return imageLayoutMapping[l]
}

// AcquireResult is the outcome of acquiring the next image from a Swapchain
type AcquireResult byte

const (
	AcquireSuccess AcquireResult = iota
	// AcquireSuboptimal means an image was acquired but the swapchain no longer matches the
	// surface exactly. It is treated as a success.
	AcquireSuboptimal
	// AcquireOutOfDate means no image was acquired and the swapchain must be recreated
	AcquireOutOfDate
)

var acquireResultMapping = make(map[AcquireResult]string)

func (r AcquireResult) String() string {
	return acquireResultMapping[r]
}

// WaitResult is the outcome of Scheduler.WaitForSubmit
type WaitResult byte

const (
	WaitSuccess WaitResult = iota
	WaitTimeout
)

var waitResultMapping = make(map[WaitResult]string)

func (r WaitResult) String() string {
	return waitResultMapping[r]
}

func init() {
	AccessIndirectCommandRead.Register("IndirectCommandRead")
	AccessIndexRead.Register("IndexRead")
	AccessVertexAttributeRead.Register("VertexAttributeRead")
	AccessUniformRead.Register("UniformRead")
	AccessInputAttachmentRead.Register("InputAttachmentRead")
	AccessShaderRead.Register("ShaderRead")
	AccessShaderWrite.Register("ShaderWrite")
	AccessColorAttachmentRead.Register("ColorAttachmentRead")
	AccessColorAttachmentWrite.Register("ColorAttachmentWrite")
	AccessDepthStencilAttachmentRead.Register("DepthStencilAttachmentRead")
	AccessDepthStencilAttachmentWrite.Register("DepthStencilAttachmentWrite")
	AccessTransferRead.Register("TransferRead")
	AccessTransferWrite.Register("TransferWrite")
	AccessHostRead.Register("HostRead")
	AccessHostWrite.Register("HostWrite")
	AccessMemoryRead.Register("MemoryRead")
	AccessMemoryWrite.Register("MemoryWrite")

	PipelineStageTopOfPipe.Register("TopOfPipe")
	PipelineStageDrawIndirect.Register("DrawIndirect")
	PipelineStageVertexInput.Register("VertexInput")
	PipelineStageVertexShader.Register("VertexShader")
	PipelineStageTessellationControlShader.Register("TessellationControlShader")
	PipelineStageTessellationEvaluationShader.Register("TessellationEvaluationShader")
	PipelineStageGeometryShader.Register("GeometryShader")
	PipelineStageFragmentShader.Register("FragmentShader")
	PipelineStageEarlyFragmentTests.Register("EarlyFragmentTests")
	PipelineStageLateFragmentTests.Register("LateFragmentTests")
	PipelineStageColorAttachmentOutput.Register("ColorAttachmentOutput")
	PipelineStageComputeShader.Register("ComputeShader")
	PipelineStageTransfer.Register("Transfer")
	PipelineStageBottomOfPipe.Register("BottomOfPipe")
	PipelineStageHost.Register("Host")
	PipelineStageAllGraphics.Register("AllGraphics")
	PipelineStageAllCommands.Register("AllCommands")

	ImageAspectColor.Register("Color")
	ImageAspectDepth.Register("Depth")
	ImageAspectStencil.Register("Stencil")

	imageLayoutMapping[ImageLayoutUndefined] = "ImageLayoutUndefined"
	imageLayoutMapping[ImageLayoutGeneral] = "ImageLayoutGeneral"
	imageLayoutMapping[ImageLayoutColorAttachmentOptimal] = "ImageLayoutColorAttachmentOptimal"
	imageLayoutMapping[ImageLayoutDepthStencilAttachmentOptimal] = "ImageLayoutDepthStencilAttachmentOptimal"
	imageLayoutMapping[ImageLayoutDepthStencilReadOnlyOptimal] = "ImageLayoutDepthStencilReadOnlyOptimal"
	imageLayoutMapping[ImageLayoutShaderReadOnlyOptimal] = "ImageLayoutShaderReadOnlyOptimal"
	imageLayoutMapping[ImageLayoutTransferSrcOptimal] = "ImageLayoutTransferSrcOptimal"
	imageLayoutMapping[ImageLayoutTransferDstOptimal] = "ImageLayoutTransferDstOptimal"
	imageLayoutMapping[ImageLayoutPreinitialized] = "ImageLayoutPreinitialized"
	imageLayoutMapping[ImageLayoutPresentSrc] = "ImageLayoutPresentSrc"

	acquireResultMapping[AcquireSuccess] = "AcquireSuccess"
	acquireResultMapping[AcquireSuboptimal] = "AcquireSuboptimal"
	acquireResultMapping[AcquireOutOfDate] = "AcquireOutOfDate"

	waitResultMapping[WaitSuccess] = "WaitSuccess"
	waitResultMapping[WaitTimeout] = "WaitTimeout"
}
