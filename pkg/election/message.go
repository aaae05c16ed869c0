package election

// MessageKind identifies one of the five inbound/outbound message shapes
// an election exchanges. Wire encoding of these payloads is a transport
// concern; only the semantic fields are modeled here.
type MessageKind int

const (
	MsgCanvassPosition MessageKind = iota
	MsgRequestVote
	MsgVote
	MsgNewLeadershipTerm
	MsgAppendedPosition
)

func (k MessageKind) String() string {
	switch k {
	case MsgCanvassPosition:
		return "CanvassPosition"
	case MsgRequestVote:
		return "RequestVote"
	case MsgVote:
		return "Vote"
	case MsgNewLeadershipTerm:
		return "NewLeadershipTerm"
	case MsgAppendedPosition:
		return "AppendedPosition"
	default:
		return "Unknown"
	}
}

// Message is the union of the five payloads above. Every message carries
// the sender's member id; a given MessageKind only populates the fields
// relevant to it.
type Message struct {
	Kind     MessageKind
	SenderID int32

	LogPosition int64
	Term        int64

	// CandidateID is the candidate member id for RequestVote, Vote and
	// NewLeadershipTerm (where it identifies the new leader).
	CandidateID int32

	// VoterID and VoteYes are populated on Vote messages.
	VoterID int32
	VoteYes bool

	// LogSessionID is populated on NewLeadershipTerm.
	LogSessionID int32
}

func canvassPosition(logPos, term int64, senderID int32) Message {
	return Message{Kind: MsgCanvassPosition, SenderID: senderID, LogPosition: logPos, Term: term}
}

func requestVote(logPos, term int64, candidateID int32) Message {
	return Message{Kind: MsgRequestVote, SenderID: candidateID, LogPosition: logPos, Term: term, CandidateID: candidateID}
}

func vote(term int64, candidateID, voterID int32, yes bool) Message {
	return Message{Kind: MsgVote, SenderID: voterID, Term: term, CandidateID: candidateID, VoterID: voterID, VoteYes: yes}
}

func newLeadershipTerm(logPos, term int64, leaderID int32, logSessionID int32) Message {
	return Message{Kind: MsgNewLeadershipTerm, SenderID: leaderID, LogPosition: logPos, Term: term, CandidateID: leaderID, LogSessionID: logSessionID}
}

func appendedPosition(logPos, term int64, senderID int32) Message {
	return Message{Kind: MsgAppendedPosition, SenderID: senderID, LogPosition: logPos, Term: term}
}
