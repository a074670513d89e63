package model

import "time"

type Role string

const (
	RoleStudent Role = "student"
	RoleSupport Role = "support"
	RoleAdmin   Role = "admin"
)

type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusInactive AccountStatus = "inactive"
)

type Account struct {
	ID          string        `json:"id"`
	Email       string        `json:"email"`
	DisplayName string        `json:"display_name"`
	FullName    string        `json:"full_name,omitempty"`
	Role        Role          `json:"role"`
	Status      AccountStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	LastSeen    *time.Time    `json:"last_seen,omitempty"`
}

type ActivityType string

const (
	ActivityTypeClass      ActivityType = "class"
	ActivityTypeExam       ActivityType = "exam"
	ActivityTypeAssignment ActivityType = "assignment"
	ActivityTypeMeeting    ActivityType = "meeting"
	ActivityTypeOther      ActivityType = "other"
)

func (t ActivityType) Valid() bool {
	switch t {
	case ActivityTypeClass, ActivityTypeExam, ActivityTypeAssignment, ActivityTypeMeeting, ActivityTypeOther:
		return true
	}
	return false
}

// Activity times are naive wall-clock values in the owner's local time.
type Activity struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	Title       string       `json:"title"`
	Date        string       `json:"date"`
	Time        string       `json:"time"`
	Location    string       `json:"location,omitempty"`
	Type        ActivityType `json:"type"`
	IsCompleted bool         `json:"is_completed"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

type ConversationState string

const (
	ConversationActive              ConversationState = "active"
	ConversationEscalatedPending    ConversationState = "escalated_pending"
	ConversationEscalatedInProgress ConversationState = "escalated_in_progress"
	ConversationResolved            ConversationState = "resolved"
)

type Conversation struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	Title         *string           `json:"title"`
	State         ConversationState `json:"state"`
	EscalatedAt   *time.Time        `json:"escalated_at,omitempty"`
	ResolvedAt    *time.Time        `json:"resolved_at,omitempty"`
	LastMessageAt time.Time         `json:"last_message_at"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

func (c Conversation) IsEscalated() bool {
	return c.State != ConversationActive
}

func (c Conversation) IsResolved() bool {
	return c.State == ConversationResolved
}

type ConversationSummary struct {
	Conversation
	MessageCount int    `json:"message_count"`
	LastMessage  string `json:"last_message"`
}

type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

type ResponseType string

const (
	ResponseGreeting   ResponseType = "greeting"
	ResponseFAQ        ResponseType = "faq"
	ResponseBot        ResponseType = "bot"
	ResponseEscalation ResponseType = "escalation"
	ResponseLiveChat   ResponseType = "live_chat"
	ResponseAgent      ResponseType = "agent"
	ResponseUser       ResponseType = "user"
)

// FAQ is a canned question with its answer. Students pick one by id.
type FAQ struct {
	ID        int64     `json:"id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer,omitempty"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Rating string

const (
	RatingUp   Rating = "up"
	RatingDown Rating = "down"
)

type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Role           MessageRole  `json:"role"`
	Content        string       `json:"content"`
	ResponseType   ResponseType `json:"response_type"`
	Rating         *Rating      `json:"rating,omitempty"`
	SenderID       string       `json:"sender_id,omitempty"`
	Seq            int64        `json:"seq"`
	CreatedAt      time.Time    `json:"created_at"`
}

type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestInProgress RequestStatus = "in_progress"
	RequestResolved   RequestStatus = "resolved"
)

type AgentRequest struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	UserID         string        `json:"user_id"`
	Status         RequestStatus `json:"status"`
	AgentID        *string       `json:"agent_id,omitempty"`
	AssignedAt     *time.Time    `json:"assigned_at,omitempty"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// AgentRequestView is the queue projection shown to support agents.
type AgentRequestView struct {
	AgentRequest
	UserName     string `json:"user_name"`
	LastMessage  string `json:"last_message"`
	MessageCount int    `json:"message_count"`
}

type NotificationType string

const (
	NotificationReminder   NotificationType = "reminder"
	NotificationAssignment NotificationType = "assignment"
	NotificationSystem     NotificationType = "system"
)

type Notification struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	ActivityID       *string          `json:"activity_id,omitempty"`
	Type             NotificationType `json:"type"`
	Title            string           `json:"title"`
	Message          string           `json:"message"`
	ActivityTitle    string           `json:"activity_title,omitempty"`
	ActivityDate     string           `json:"activity_date,omitempty"`
	ActivityTime     string           `json:"activity_time,omitempty"`
	ActivityLocation string           `json:"activity_location,omitempty"`
	IsRead           bool             `json:"is_read"`
	ReadAt           *time.Time       `json:"read_at,omitempty"`
	IsDismissed      bool             `json:"is_dismissed"`
	DismissedAt      *time.Time       `json:"dismissed_at,omitempty"`
	EmailSent        bool             `json:"email_sent"`
	EmailSentAt      *time.Time       `json:"email_sent_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

type UserContact struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxDelivered  OutboxStatus = "delivered"
	OutboxFailed     OutboxStatus = "failed"
)

const OutboxKindAssignmentClaimed = "assignment.claimed"

type OutboxEvent struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	Payload     map[string]any `json:"payload"`
	Status      OutboxStatus   `json:"status"`
	Attempts    int            `json:"attempts"`
	LastError   string         `json:"last_error,omitempty"`
	AvailableAt time.Time      `json:"available_at"`
	CreatedAt   time.Time      `json:"created_at"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
}

// Event is what travels over the in-process broker.
type Event struct {
	Topic    string         `json:"topic"`
	Type     string         `json:"type"`
	SenderID string         `json:"sender_id,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	At       time.Time      `json:"at"`
}

type AuditEntry struct {
	ID         string         `json:"id"`
	ActorID    string         `json:"actor_id"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Live chat event types published on a conversation's room topic.
const (
	ChatEventMessage     = "message"
	ChatEventEscalated   = "escalated"
	ChatEventAgentJoined = "agent_joined"
	ChatEventResolved    = "resolved"
)
