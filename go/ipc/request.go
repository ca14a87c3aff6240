package ipc

import (
	"fmt"

	"github.com/lonaos/lmm/go/models"
)

// AllocPagesRequest asks the manager to map PageCount pages into Region.
// A zero Hint lets the manager choose the address.
type AllocPagesRequest struct {
	Tag       Tag
	Region    Region
	PageCount uint64
	Hint      models.Vaddr
}

func NewAllocPagesRequest(region Region, pages uint64, hint models.Vaddr) AllocPagesRequest {
	return AllocPagesRequest{Tag: TagAllocPages, Region: region, PageCount: pages, Hint: hint}
}

func (r AllocPagesRequest) MRs() [AllocPagesRequestLen]uint64 {
	return [AllocPagesRequestLen]uint64{uint64(r.Tag), uint64(r.Region), r.PageCount, uint64(r.Hint)}
}

// RequestFromMRs decodes a request. Unknown tags and regions are rejected
// here; page count and hint are validated by the manager.
func RequestFromMRs(mrs [AllocPagesRequestLen]uint64) (AllocPagesRequest, bool) {
	tag, ok := TagFromU64(mrs[0])
	if !ok || tag != TagAllocPages {
		return AllocPagesRequest{}, false
	}
	region, ok := RegionFromU64(mrs[1])
	if !ok {
		return AllocPagesRequest{}, false
	}
	return AllocPagesRequest{Tag: tag, Region: region, PageCount: mrs[2], Hint: models.Vaddr(mrs[3])}, true
}

func (r AllocPagesRequest) String() string {
	return fmt.Sprintf("AllocPages(%s, %d pages, hint %s)", r.Region, r.PageCount, r.Hint)
}

// AllocPagesResponse carries the mapped address on success. Error responses
// have zero Vaddr and PageCount.
type AllocPagesResponse struct {
	Tag       Tag
	Vaddr     models.Vaddr
	PageCount uint64
}

func Success(vaddr models.Vaddr, pages uint64) AllocPagesResponse {
	return AllocPagesResponse{Tag: TagSuccess, Vaddr: vaddr, PageCount: pages}
}

func ErrorOutOfMemory() AllocPagesResponse    { return AllocPagesResponse{Tag: TagErrorOutOfMemory} }
func ErrorInvalidRequest() AllocPagesResponse { return AllocPagesResponse{Tag: TagErrorInvalidRequest} }

func (r AllocPagesResponse) IsSuccess() bool { return r.Tag.IsSuccess() }

func (r AllocPagesResponse) MRs() [AllocPagesResponseLen]uint64 {
	return [AllocPagesResponseLen]uint64{uint64(r.Tag), uint64(r.Vaddr), r.PageCount}
}

// ResponseFromMRs decodes a response. Request tags are not valid here.
func ResponseFromMRs(mrs [AllocPagesResponseLen]uint64) (AllocPagesResponse, bool) {
	tag, ok := TagFromU64(mrs[0])
	if !ok || !tag.IsResponse() {
		return AllocPagesResponse{}, false
	}
	return AllocPagesResponse{Tag: tag, Vaddr: models.Vaddr(mrs[1]), PageCount: mrs[2]}, true
}

// Error converts a non-success response into the caller's error.
func (r AllocPagesResponse) Error() error {
	if r.IsSuccess() {
		return nil
	}
	if e, ok := LmmErrorFromTag(r.Tag); ok {
		return e
	}
	return LmmInvalidResponse
}

// LmmError is what a realm sees when the manager cannot serve a request.
type LmmError int

const (
	LmmOutOfMemory LmmError = iota + 1
	LmmInvalidRequest
	LmmInvalidResponse
)

func LmmErrorFromTag(t Tag) (LmmError, bool) {
	switch t {
	case TagErrorOutOfMemory:
		return LmmOutOfMemory, true
	case TagErrorInvalidRequest:
		return LmmInvalidRequest, true
	}
	return 0, false
}

func (e LmmError) Error() string {
	switch e {
	case LmmOutOfMemory:
		return "lmm: out of memory"
	case LmmInvalidRequest:
		return "lmm: invalid request"
	case LmmInvalidResponse:
		return "lmm: invalid response"
	}
	return fmt.Sprintf("lmm: error %d", int(e))
}
