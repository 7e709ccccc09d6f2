package handler_test

import (
	"testing"

	"github.com/Alia5/VNETIP/internal/server/usb"
	"github.com/Alia5/VNETIP/virtualbus"
)

func addBus(t *testing.T, s *usb.Server, busID uint32) *virtualbus.VirtualBus {
	t.Helper()
	b, err := virtualbus.NewWithBusId(busID)
	if err != nil {
		t.Fatalf("create bus failed: %v", err)
	}
	if err := s.AddBus(b); err != nil {
		t.Fatalf("add bus failed: %v", err)
	}
	return b
}
