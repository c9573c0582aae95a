package klogging

import "os"

// OsExit is swappable so tests can observe Fatal without dying.
var OsExit = os.Exit
