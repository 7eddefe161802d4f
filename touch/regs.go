package touch

import "fmt"

// Register map and command set of the TTSP controller family.
const (
	regBase   = 0x00
	regCATCmd = 0x02

	hstToggle     = 0x80
	hstModeMask   = 0x70
	hstModeChange = 0x08
	hstLowPower   = 0x04
	hstSleep      = 0x02
	hstReset      = 0x01

	hstOperate = 0x00
	hstSysInfo = 0x10
	hstCAT     = 0x20

	cmdComplete = 0x40
	cmdToggle   = 0x80
	cmdMask     = 0x3F

	statusSuccess = 0x00
)

// Operational mode commands.
const (
	OpNull         byte = 0x00
	OpGetParam     byte = 0x02
	OpSetParam     byte = 0x03
	OpGetCRC       byte = 0x05
	OpWaitForEvent byte = 0x06
)

// Diagnostic (configuration and test) mode commands.
const (
	CatNull                  byte = 0x00
	CatGetConfigRowSize      byte = 0x02
	CatReadConfigBlock       byte = 0x03
	CatWriteConfigBlock      byte = 0x04
	CatCalibrateIDACs        byte = 0x09
	CatInitBaselines         byte = 0x0A
	CatExecPanelScan         byte = 0x0B
	CatRetrievePanelScan     byte = 0x0C
	CatRetrieveDataStructure byte = 0x10
	CatVerifyConfigBlockCRC  byte = 0x11
)

// RAM parameter ids used by the session layer.
const (
	ParamTouchmodeEnabled  byte = 0x02
	ParamScanType          byte = 0x4B
	ParamLowPowerInterval  byte = 0x71
	ParamRefreshInterval   byte = 0x72
	ParamActiveModeTimeout byte = 0x73
)

// Configuration block ids.
const (
	EBIDTouchParams byte = 0x00
	EBIDManufacture byte = 0x01
	EBIDDesign      byte = 0x02
)

const (
	ttconfigVersionRow    = 0
	ttconfigVersionOffset = 8
	ttconfigVersionSize   = 2
	configLengthRow       = 0
	configLengthOffset    = 0
	configMaxLengthOffset = 2
	configLengthInfoSize  = 4

	readBlockHeaderSize  = 5
	writeBlockHeaderSize = 6
	writeBlockReturnSize = 5

	retrieveReturnSize  = 5
	retrieveElementMask = 0x07

	touchmodeProximity = 0x80
	deepSleepGesture   = 0xFF
	maxTouchRecordMask = 0x1F
	touchCountMask     = 0x1F
	largeObjectMask    = 0x20
	badPacketMask      = 0x20
	buttonsPerRegister = 4
)

var (
	securityKey = []byte{0xA5, 0x01, 0x02, 0x03, 0xFF, 0xFE, 0xFD, 0x5A}
	ldrExit     = []byte{0xFF, 0x01, 0x3B, 0x00, 0x00, 0x4F, 0x6D, 0x17}
	ldrFastExit = []byte{0xFF, 0x01, 0x3C, 0x00, 0x00, 0xC3, 0x68, 0x17}
	// reported at the base address when the application image is invalid
	ldrErrApp = []byte{0x01, 0x02, 0x00, 0x00, 0x55, 0xDD, 0x17}
)

func isBootloader(hstMode, resetDetect byte) bool {
	return hstMode&hstReset != 0 || resetDetect != 0
}

func isBootloaderIdle(hstMode, resetDetect byte) bool {
	return hstMode&0x01 != 0 && resetDetect&0x01 != 0
}

// deviceMode classifies the mode field of the host status byte.
func deviceMode(hstMode byte) Mode {
	switch hstMode & hstModeMask {
	case hstOperate:
		return ModeOperational
	case hstCAT:
		return ModeDiagnostic
	case hstSysInfo:
		return ModeSysInfo
	}
	return ModeUnknown
}

func modeBits(m Mode) (byte, error) {
	switch m {
	case ModeOperational:
		return hstOperate, nil
	case ModeSysInfo:
		return hstSysInfo, nil
	case ModeDiagnostic:
		return hstCAT, nil
	}
	return 0, fmt.Errorf("%w: cannot request mode %s", ErrInvalidArgument, m)
}

var opNames = map[byte]string{
	OpNull:         "null",
	OpGetParam:     "get_param",
	OpSetParam:     "set_param",
	OpGetCRC:       "get_crc",
	OpWaitForEvent: "wait_for_event",
}

var catNames = map[byte]string{
	CatNull:                  "null",
	CatGetConfigRowSize:      "get_cfg_row_size",
	CatReadConfigBlock:       "read_cfg_blk",
	CatWriteConfigBlock:      "write_cfg_blk",
	CatCalibrateIDACs:        "calibrate_idacs",
	CatInitBaselines:         "init_baselines",
	CatExecPanelScan:         "exec_panel_scan",
	CatRetrievePanelScan:     "retrieve_panel_scan",
	CatRetrieveDataStructure: "retrieve_data_structure",
	CatVerifyConfigBlockCRC:  "verify_cfg_blk_crc",
}

func commandName(m Mode, opcode byte) string {
	var names map[byte]string
	switch m {
	case ModeOperational:
		names = opNames
	case ModeDiagnostic:
		names = catNames
	}
	if n, ok := names[opcode&cmdMask]; ok {
		return n
	}
	return fmt.Sprintf("0x%02X", opcode)
}

func be16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

func le16(b []byte) uint16 {
	return uint16(b[1])<<8 | uint16(b[0])
}
