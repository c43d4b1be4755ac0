// Package protocol implements the Gearman wire protocol: binary request/
// response frames and the text admin protocol that shares the same TCP
// port.
package protocol

// Type is a Gearman packet type number, unique within a Magic.
type Type uint32

// Packet type registry. nargs is the number of NUL-separated leading
// fields the payload carries; a trailing field (no terminating NUL)
// follows them. nargs == -1 means the packet carries no argument-form
// payload at all.
const (
	CAN_DO                       Type = 1
	CANT_DO                      Type = 2
	RESET_ABILITIES              Type = 3
	PRE_SLEEP                    Type = 4
	NOOP                         Type = 6
	SUBMIT_JOB                   Type = 7
	JOB_CREATED                  Type = 8
	GRAB_JOB                     Type = 9
	NO_JOB                       Type = 10
	JOB_ASSIGN                   Type = 11
	WORK_STATUS                  Type = 12
	WORK_COMPLETE                Type = 13
	WORK_FAIL                    Type = 14
	GET_STATUS                   Type = 15
	ECHO_REQ                     Type = 16
	ECHO_RES                     Type = 17
	SUBMIT_JOB_BG                Type = 18
	ERROR                        Type = 19
	STATUS_RES                   Type = 20
	SUBMIT_JOB_HIGH              Type = 21
	SET_CLIENT_ID                Type = 22
	CAN_DO_TIMEOUT               Type = 23
	ALL_YOURS                    Type = 24
	WORK_EXCEPTION               Type = 25
	OPTION_REQ                   Type = 26
	OPTION_RES                   Type = 27
	WORK_DATA                    Type = 28
	WORK_WARNING                 Type = 29
	GRAB_JOB_UNIQ                Type = 30
	JOB_ASSIGN_UNIQ              Type = 31
	SUBMIT_JOB_HIGH_BG           Type = 32
	SUBMIT_JOB_LOW               Type = 33
	SUBMIT_JOB_LOW_BG            Type = 34
	SUBMIT_JOB_SCHED             Type = 35
	SUBMIT_JOB_EPOCH             Type = 36
	SUBMIT_REDUCE_JOB            Type = 37
	SUBMIT_REDUCE_JOB_BACKGROUND Type = 38
	GRAB_JOB_ALL                 Type = 39
	JOB_ASSIGN_ALL               Type = 40
	GET_STATUS_UNIQUE            Type = 41
	STATUS_RES_UNIQUE            Type = 42
)

type typeInfo struct {
	name  string
	nargs int
}

var registry = map[Type]typeInfo{
	CAN_DO:                       {"CAN_DO", 0},
	CANT_DO:                      {"CANT_DO", 0},
	RESET_ABILITIES:              {"RESET_ABILITIES", -1},
	PRE_SLEEP:                    {"PRE_SLEEP", -1},
	NOOP:                         {"NOOP", -1},
	SUBMIT_JOB:                   {"SUBMIT_JOB", 2},
	JOB_CREATED:                  {"JOB_CREATED", 0},
	GRAB_JOB:                     {"GRAB_JOB", -1},
	NO_JOB:                       {"NO_JOB", -1},
	JOB_ASSIGN:                   {"JOB_ASSIGN", 2},
	WORK_STATUS:                  {"WORK_STATUS", 2},
	WORK_COMPLETE:                {"WORK_COMPLETE", 1},
	WORK_FAIL:                    {"WORK_FAIL", 0},
	GET_STATUS:                   {"GET_STATUS", 0},
	ECHO_REQ:                     {"ECHO_REQ", 0},
	ECHO_RES:                     {"ECHO_RES", 1},
	SUBMIT_JOB_BG:                {"SUBMIT_JOB_BG", 2},
	ERROR:                        {"ERROR", 1},
	STATUS_RES:                   {"STATUS_RES", 4},
	SUBMIT_JOB_HIGH:              {"SUBMIT_JOB_HIGH", 2},
	SET_CLIENT_ID:                {"SET_CLIENT_ID", 0},
	CAN_DO_TIMEOUT:               {"CAN_DO_TIMEOUT", 1},
	ALL_YOURS:                    {"ALL_YOURS", -1},
	WORK_EXCEPTION:               {"WORK_EXCEPTION", 1},
	OPTION_REQ:                   {"OPTION_REQ", 0},
	OPTION_RES:                   {"OPTION_RES", 0},
	WORK_DATA:                    {"WORK_DATA", 1},
	WORK_WARNING:                 {"WORK_WARNING", 1},
	GRAB_JOB_UNIQ:                {"GRAB_JOB_UNIQ", -1},
	JOB_ASSIGN_UNIQ:              {"JOB_ASSIGN_UNIQ", 3},
	SUBMIT_JOB_HIGH_BG:           {"SUBMIT_JOB_HIGH_BG", 2},
	SUBMIT_JOB_LOW:               {"SUBMIT_JOB_LOW", 2},
	SUBMIT_JOB_LOW_BG:            {"SUBMIT_JOB_LOW_BG", 2},
	SUBMIT_JOB_SCHED:             {"SUBMIT_JOB_SCHED", 7},
	SUBMIT_JOB_EPOCH:             {"SUBMIT_JOB_EPOCH", 3},
	SUBMIT_REDUCE_JOB:            {"SUBMIT_REDUCE_JOB", 3},
	SUBMIT_REDUCE_JOB_BACKGROUND: {"SUBMIT_REDUCE_JOB_BACKGROUND", 3},
	GRAB_JOB_ALL:                 {"GRAB_JOB_ALL", -1},
	JOB_ASSIGN_ALL:               {"JOB_ASSIGN_ALL", 4},
	GET_STATUS_UNIQUE:            {"GET_STATUS_UNIQUE", 0},
	STATUS_RES_UNIQUE:            {"STATUS_RES_UNIQUE", 5},
}

// Name returns the registry name for a ptype, or "UNKNOWN" if unregistered.
func (t Type) Name() string {
	if info, ok := registry[t]; ok {
		return info.name
	}
	return "UNKNOWN"
}

// NArgs returns the number of NUL-separated leading fields declared for a
// ptype, or false if the ptype is not registered.
func (t Type) NArgs() (int, bool) {
	info, ok := registry[t]
	if !ok {
		return 0, false
	}
	return info.nargs, true
}

// Known reports whether t is a registered packet type.
func (t Type) Known() bool {
	_, ok := registry[t]
	return ok
}
