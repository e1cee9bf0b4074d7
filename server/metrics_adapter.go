package server

// The methods below satisfy metrics.Session, letting Server register each
// Session with a metrics.SessionCollector. metrics itself stays free of any
// server dependency -- it only knows the narrow interface -- so the
// collector can be constructed and handed to Server by cmd/vncserver.

func (s *Session) SessionID() string { return s.ID.String() }

func (s *Session) SendingThroughput() float64   { return s.Adaptive.SendingThroughput() }
func (s *Session) ReceivingThroughput() float64 { return s.Adaptive.ReceivingThroughput() }
func (s *Session) PushIntervalMillis() float64  { return float64(s.Adaptive.PushInterval.Milliseconds()) }
func (s *Session) TightQualityLevel() float64   { return float64(s.Adaptive.QualityLevel) }
func (s *Session) SRTTMillis() float64          { return float64(s.Adaptive.SRTT().Milliseconds()) }
func (s *Session) RTTVarMillis() float64        { return float64(s.Adaptive.RTTVar().Milliseconds()) }
func (s *Session) BytesSentTotal() float64      { return float64(s.BytesSent) }
func (s *Session) RetransmitTotal() float64     { return float64(s.RetransmitCount) }
