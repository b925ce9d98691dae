package trace

import "github.com/tliron/commonlog"

var log = commonlog.GetLogger("framehook.trace")
