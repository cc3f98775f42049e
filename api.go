package gatt

import (
	"context"

	"github.com/bluecats/gatt/bgapi"
)

// API is the part of *bgapi.BGAPI the state machines drive.
type API interface {
	Subscribe(h bgapi.EventHandler) (cancel func())

	AddressGet(ctx context.Context) (bgapi.Addr, error)

	SetScanParameters(ctx context.Context, p bgapi.ScanParams) error
	Discover(ctx context.Context, mode bgapi.DiscoverMode) error
	EndProcedure(ctx context.Context) error
	ConnectDirect(ctx context.Context, addr bgapi.Addr, typ bgapi.AddressType, p bgapi.ConnParams) (uint8, error)

	Disconnect(ctx context.Context, conn uint8) error
	GetRSSI(ctx context.Context, conn uint8) (int8, error)

	ReadByGroupType(ctx context.Context, conn uint8, start, end uint16, uuid []byte) error
	ReadByType(ctx context.Context, conn uint8, start, end uint16, uuid []byte) error
	ReadByHandle(ctx context.Context, conn uint8, handle uint16) error
	AttributeWrite(ctx context.Context, conn uint8, handle uint16, data []byte) error
	WriteCommand(ctx context.Context, conn uint8, handle uint16, data []byte) error
	IndicateConfirm(ctx context.Context, conn uint8) error
}

var _ API = (*bgapi.BGAPI)(nil)
