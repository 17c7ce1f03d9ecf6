package netif

import (
	"strconv"
	"strings"
	"sync"

	"github.com/jaypipes/pcidb"
)

var (
	pciOnce sync.Once
	pciDB   *pcidb.PCIDB
)

// pciIdent is the adapter's chip id and, when the board vendor reports one,
// its subsystem id. All parts are four lower-case hex digits.
type pciIdent struct {
	vendor, device       string
	subVendor, subDevice string
}

// parsePCIIdent accepts the "VVVV:DDDD" pairs found in a NIC's uevent
// (PCI_ID, PCI_SUBSYS_ID). subsys may be empty.
func parsePCIIdent(id, subsys string) (pciIdent, bool) {
	var ident pciIdent
	var ok bool
	if ident.vendor, ident.device, ok = splitHexPair(id); !ok {
		return pciIdent{}, false
	}
	ident.subVendor, ident.subDevice, _ = splitHexPair(subsys)
	return ident, true
}

func splitHexPair(pair string) (string, string, bool) {
	left, right, found := strings.Cut(strings.TrimSpace(pair), ":")
	left, right = normalizeHex(left), normalizeHex(right)
	if !found || left == "" || right == "" {
		return "", "", false
	}
	return left, right, true
}

func normalizeHex(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	value = strings.TrimPrefix(value, "0x")
	if value == "" || len(value) > 4 {
		return ""
	}
	if _, err := strconv.ParseUint(value, 16, 16); err != nil {
		return ""
	}
	return strings.Repeat("0", 4-len(value)) + value
}

// nicModel resolves a display name for the adapter, or "" when the PCI
// database is unavailable or knows nothing about the vendor.
func nicModel(ident pciIdent) string {
	pciOnce.Do(func() {
		db, err := pcidb.New()
		if err == nil {
			pciDB = db
		}
	})
	return modelName(pciDB, ident)
}

// modelName prefers the board (subsystem) name, then the chip name. Adapters
// newer than the installed pci.ids fall back to the vendor name.
func modelName(db *pcidb.PCIDB, ident pciIdent) string {
	if db == nil || ident.vendor == "" {
		return ""
	}

	if product := db.Products[ident.vendor+ident.device]; product != nil {
		if ident.subVendor != "" {
			for _, board := range product.Subsystems {
				if board != nil && board.Name != "" &&
					board.VendorID == ident.subVendor && board.ID == ident.subDevice {
					return board.Name
				}
			}
		}
		if product.Name != "" {
			return product.Name
		}
	}

	if vendor := db.Vendors[ident.vendor]; vendor != nil {
		return vendor.Name
	}
	return ""
}
