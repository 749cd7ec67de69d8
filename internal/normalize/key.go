// Package normalize maps vendor field-name variants onto a canonical field
// set and extracts extension numbers from channel identifiers. Everything here
// is pure.
package normalize

// aliases maps every known spelling to its canonical key. Canonical keys map
// to themselves so the table doubles as the canonical set.
var aliases = map[string]string{
	"Event":    "Event",
	"Response": "Response",
	"Message":  "Message",
	"ActionID": "ActionID",

	"Queue":     "Queue",
	"QueueName": "Queue",
	"queue":     "Queue",

	"Member":         "Member",
	"MemberName":     "MemberName",
	"Interface":      "Interface",
	"StateInterface": "StateInterface",
	"Agent":          "Member",
	"agent":          "Member",

	"CallerIDNum":       "CallerIDNum",
	"CallerID":          "CallerIDNum",
	"Callerid":          "CallerIDNum",
	"callerid":          "CallerIDNum",
	"CallerIdNum":       "CallerIDNum",
	"CallerIDName":      "CallerIDName",
	"CallerIdName":      "CallerIDName",
	"ConnectedLineNum":  "ConnectedLineNum",
	"ConnectedLineName": "ConnectedLineName",
	"DestCallerIDNum":   "DestCallerIDNum",
	"DestCallerIDName":  "DestCallerIDName",

	"Channel":            "Channel",
	"channel":            "Channel",
	"DestChannel":        "DestChannel",
	"Destchannel":        "DestChannel",
	"DestinationChannel": "DestChannel",

	"UniqueID":     "UniqueID",
	"Uniqueid":     "UniqueID",
	"uniqueid":     "UniqueID",
	"LinkedID":     "LinkedID",
	"Linkedid":     "LinkedID",
	"DestUniqueID": "DestUniqueID",
	"DestUniqueid": "DestUniqueID",

	"Status":           "Status",
	"MemberStatus":     "Status",
	"StatusText":       "StatusText",
	"ChannelState":     "ChannelState",
	"ChannelStateDesc": "ChannelStateDesc",
	"DeviceStatus":     "DeviceStatus",
	"Device":           "Device",
	"State":            "State",
	"Paused":           "Paused",
	"PausedReason":     "PausedReason",
	"Reason":           "Reason",
	"DialStatus":       "DialStatus",
	"DialString":       "DialString",

	"Wait":     "Wait",
	"WaitTime": "Wait",
	"HoldTime": "HoldTime",
	"Holdtime": "HoldTime",
	"TalkTime": "TalkTime",
	"Talktime": "TalkTime",
	"RingTime": "RingTime",
	"Ringtime": "RingTime",
	"Duration": "Duration",

	"Count":      "Count",
	"Calls":      "Calls",
	"Callers":    "Callers",
	"Waiting":    "Waiting",
	"Available":  "Available",
	"LoggedIn":   "LoggedIn",
	"Members":    "Members",
	"Position":   "Position",
	"CallsTaken": "CallsTaken",
	"LastCall":   "LastCall",

	"Exten":   "Exten",
	"Context": "Context",
}

// Key returns the canonical spelling of a field name. Unknown keys pass
// through unchanged.
func Key(raw string) string {
	if k, ok := aliases[raw]; ok {
		return k
	}
	return raw
}

// IsCanonical reports whether key belongs to the canonical field set.
func IsCanonical(key string) bool {
	k, ok := aliases[key]
	return ok && k == key
}
