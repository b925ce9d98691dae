package jit

import "github.com/tliron/commonlog"

var log = commonlog.GetLogger("framehook.jit")
