package logger

type nopLogger struct{}

// NewNop returns a Logger that discards everything. Tests of the hot poll path use it to
// keep output quiet.
func NewNop() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Fatal(string, ...any) {}
func (l nopLogger) With(...any) Logger { return l }
func (nopLogger) Level() LogLevel      { return FatalLevel }
func (nopLogger) SetLevel(LogLevel)    {}
