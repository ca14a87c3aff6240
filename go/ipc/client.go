package ipc

import (
	"context"

	"github.com/pkg/errors"

	"github.com/lonaos/lmm/go/models"
)

// Client is the realm-side stub for the memory manager. Port is the
// realm's own capability table; Endpoint is the slot the manager's
// endpoint was copied to.
type Client struct {
	Port     models.Caller
	Endpoint models.CapSlot
}

func NewClient(port models.Caller) *Client {
	return &Client{Port: port, Endpoint: models.SlotLMMEndpoint}
}

// RequestPages asks for pages pages in region. With a zero hint the manager
// picks the address; otherwise the pages land at hint or the call fails.
func (c *Client) RequestPages(ctx context.Context, region Region, pages uint64, hint models.Vaddr) (models.Vaddr, error) {
	req := NewAllocPagesRequest(region, pages, hint)
	mrs := req.MRs()
	reply, err := c.Port.Call(ctx, c.Endpoint, models.LabelCall, mrs[:])
	if err != nil {
		return 0, errors.Wrap(err, "lmm call")
	}
	if len(reply) < AllocPagesResponseLen {
		return 0, LmmInvalidResponse
	}
	var raw [AllocPagesResponseLen]uint64
	copy(raw[:], reply)
	resp, ok := ResponseFromMRs(raw)
	if !ok {
		return 0, LmmInvalidResponse
	}
	if err := resp.Error(); err != nil {
		return 0, err
	}
	return resp.Vaddr, nil
}
