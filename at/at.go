package at

const (
	// Terminal Control
	CRLF   = "\r\n"
	Prompt = ">"
	CtrlZ  = "\x1a"
	Esc    = "\x1b"

	// Response Codes
	OK         = "OK"
	ERROR      = "ERROR"
	NoCarrier  = "NO CARRIER"
	NoDialtone = "NO DIALTONE"
	Busy       = "BUSY"
	NoAnswer   = "NO ANSWER"
	CmeError   = "+CME ERROR:"
	CmsError   = "+CMS ERROR:"

	// Information response prefixes
	CmgsPrefix = "+CMGS:"
	CregPrefix = "+CREG:"
	CsqPrefix  = "+CSQ:"
	CpinPrefix = "+CPIN:"

	// SIM states reported by AT+CPIN?
	SimReady = "READY"
	SimPin   = "SIM PIN"

	// URCs (Unsolicited Result Codes)
	UrcNewMsg        = "+CMTI:"
	UrcMessageReport = "+CDSI:"
	UrcCall          = "RING"
)

// Commands sent verbatim to the modem. They follow 3GPP TS 27.005 and
// 27.007 and must not be altered for compatibility with real hardware.
const (
	CmdAt            = "AT"
	CmdEchoOff       = "ATE0"
	CmdSetTextMode   = "AT+CMGF=1"
	CmdCharsetGSM    = `AT+CSCS="GSM"`
	CmdSimStatus     = "AT+CPIN?"
	CmdRegistration  = "AT+CREG?"
	CmdManufacturer  = "AT+CGMI"
	CmdModel         = "AT+CGMM"
	CmdSerialNumber  = "AT+CGSN"
	CmdSignalQuality = "AT+CSQ"
)

// SendSMS returns the AT+CMGS command that announces a text-mode message
// for recipient.
func SendSMS(recipient string) string {
	return `AT+CMGS="` + recipient + `"`
}

// EnterPIN returns the AT+CPIN command that unlocks the SIM with pin.
func EnterPIN(pin string) string {
	return `AT+CPIN="` + pin + `"`
}

type ResponseType int

const (
	TypeFinal  ResponseType = iota // OK, ERROR
	TypeURC                        // Asynchronous notifications
	TypeData                       // Intermediate command output (+CSQ: ...)
	TypePrompt                     // SMS input prompt
	TypeEcho                       // Command echoed back while ATE1 is active
)

// Network registration states of +CREG (3GPP TS 27.007 §7.2).
const (
	RegNotRegistered = 0
	RegHome          = 1
	RegSearching     = 2
	RegDenied        = 3
	RegUnknown       = 4
	RegRoaming       = 5
)
