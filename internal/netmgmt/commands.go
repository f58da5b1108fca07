package netmgmt

// Command codes drawn from the ISO-IEC-14908 NM range described in §6.
// Bit-exactness with the original code assignments is out of scope (per
// spec.md's non-goals); these constants are internally consistent and
// satisfy every worked example in §8 (S1-S4).
const (
	QueryStatus           byte = 0x51
	Proxy                  byte = 0x52
	QueryStatusFlexDomain  byte = 0x53
	QueryXcvrStatus        byte = 0x54
	BidirXcvrStatus        byte = 0x55
	SignalStrength         byte = 0x57
	Phase                  byte = 0x58

	QueryID            byte = 0x61
	RespondToQuery     byte = 0x62
	UpdateDomain       byte = 0x63
	LeaveDomain        byte = 0x64
	Security           byte = 0x65
	UpdateAddress      byte = 0x66
	QueryAddress       byte = 0x67
	UpdateGroupAddress byte = 0x68
	QueryNVConfig      byte = 0x69
	QueryDomain        byte = 0x6A
	UpdateNVConfig     byte = 0x6B
	ChecksumRecalc     byte = 0x6C
	NodeMode           byte = 0x6D
	WriteMemory        byte = 0x6E
	ReadMemory         byte = 0x6F

	Expanded          byte = 0x70
	MemoryRefresh     byte = 0x71
	SetRouterMode     byte = 0x72
	ClearRoutingTable byte = 0x73
	SetRoutingTable   byte = 0x74
	SetGroupFwd       byte = 0x75
	ClearGroupFwd     byte = 0x76
	SetSubnetFwd      byte = 0x77
	ClearSubnetFwd    byte = 0x78

	DeviceEscape byte = 0x7D
	RouterEscape byte = 0x7E
	ServicePin   byte = 0x7F
)

// EXPANDED subcommands, carried as the first APDU data byte after command
// code Expanded (§4.6).
const (
	ExpQueryCommandSetVersion byte = 0x01
	ExpOMAKeyQuery            byte = 0x02
	ExpOMAKeyUpdate           byte = 0x03
	ExpInitConfig             byte = 0x04
	ExpUpdateNVConfig         byte = 0x0A
	ExpQueryNVConfig          byte = 0x0B
	ExpUpdateAliasConfig      byte = 0x0C
	ExpAnnounceConfig         byte = 0x0D
	ExpQueryIPAddr            byte = 0x0E
)

// NM version and capability bitmap returned by QUERY_COMMAND_SET_VERSION.
const (
	NMVersion uint16 = 3

	CapOMA           uint16 = 1 << 0
	CapProxy         uint16 = 1 << 1
	CapPhaseDetect   uint16 = 1 << 2
	CapBiDirSSI      uint16 = 1 << 3
	CapInitConfig    uint16 = 1 << 4
)

// alwaysAllowed is the set of commands the authentication gate lets
// through even on a configured, nm_auth device without an authenticated
// APDU (§4.6 step 1).
var alwaysAllowed = map[byte]bool{
	QueryID:               true,
	RespondToQuery:        true,
	QueryStatus:           true,
	QueryStatusFlexDomain: true,
	Proxy:                 true,
	ServicePin:            true,
	DeviceEscape:          true,
	RouterEscape:          true,
	BidirXcvrStatus:       true,
}

// isAlwaysAllowedExpandedQuery reports whether req is the one EXPANDED
// sub-command §4.6 step 1 always allows unauthenticated: querying the NM
// command set version. Expanded itself isn't in alwaysAllowed because every
// other sub-command under it (OMA key update, NV config, ...) is exactly
// the kind of modifying or sensitive request the gate exists to protect.
func isAlwaysAllowedExpandedQuery(req Request) bool {
	return req.Code == Expanded && len(req.Data) >= 1 && req.Data[0] == ExpQueryCommandSetVersion
}

// legacyLockedByECS is the eight legacy commands that fail with
// InvalidParameter once any ECS write has ever succeeded (§4.6 step 4,
// §8.3).
var legacyLockedByECS = map[byte]bool{
	UpdateAddress:      true,
	UpdateGroupAddress: true,
	UpdateNVConfig:     true,
	QueryAddress:       true,
	QueryNVConfig:      true,
	UpdateDomain:       true,
	LeaveDomain:        true,
	QueryDomain:        true,
}

// modifying is the set of commands that mutate persistent device-stack
// state and therefore go through the blackout/EEPROM-lock gates (§4.6
// step 6). Stack.Commit runs for any handler result with Store set,
// whether or not the command is in this set.
var modifying = map[byte]bool{
	UpdateDomain:       true,
	LeaveDomain:        true,
	Security:           true,
	UpdateAddress:      true,
	UpdateGroupAddress: true,
	UpdateNVConfig:     true,
	NodeMode:           true,
	WriteMemory:        true,
	ChecksumRecalc:     true,
	SetRouterMode:      true,
	ClearRoutingTable:  true,
	SetRoutingTable:    true,
	SetGroupFwd:        true,
	ClearGroupFwd:      true,
	SetSubnetFwd:       true,
	ClearSubnetFwd:     true,
}

// nvOrECSClass is forwarded to the application instead of handled locally
// when the stack is running in MIP-filter mode (§4.6 step 5).
var nvOrECSClass = map[byte]bool{
	UpdateNVConfig: true,
	QueryNVConfig:  true,
	Expanded:       true,
}

// routerOnly fails with InvalidParameter on a node stack (§4.6, routing
// commands).
var routerOnly = map[byte]bool{
	SetRouterMode:     true,
	ClearRoutingTable: true,
	SetRoutingTable:   true,
	SetGroupFwd:       true,
	ClearGroupFwd:     true,
	SetSubnetFwd:      true,
	ClearSubnetFwd:    true,
}
