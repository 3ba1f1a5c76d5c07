package model

import "time"

// MessageRecord is one received HL7 message and the acknowledgment sent
// for it. Ack is empty when the connection ended without one.
type MessageRecord struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	SessionID   string    `json:"session_id" gorm:"column:session_id;type:varchar(36);index"`
	Remote      string    `json:"remote" gorm:"type:varchar(64)"`
	MessageType string    `json:"message_type" gorm:"column:message_type;type:varchar(32);index"`
	ControlID   string    `json:"control_id" gorm:"column:control_id;type:varchar(64);index"`
	AckCode     string    `json:"ack_code,omitempty" gorm:"column:ack_code;type:varchar(2)"`
	ErrorCode   string    `json:"error_code,omitempty" gorm:"column:error_code;type:varchar(8)"`
	ErrorText   string    `json:"error_text,omitempty" gorm:"column:error_text;type:text"`
	Inbound     string    `json:"inbound" gorm:"type:text;not null"`
	Ack         string    `json:"ack,omitempty" gorm:"type:text"`
	ReceivedAt  time.Time `json:"received_at" gorm:"column:received_at;not null;index"`
}

func (MessageRecord) TableName() string {
	return "hl7_messages"
}

// MessageListQuery filters the archive. Type matches the start of the
// message type ("ADT" matches "ADT^A01"); Query is a case-insensitive
// substring of the inbound text.
type MessageListQuery struct {
	Type     string `form:"type" json:"type"`
	Query    string `form:"q" json:"q"`
	Page     int    `form:"page" json:"page"`
	PageSize int    `form:"page_size" json:"page_size"`
}

// MaxListPage bounds Page so Offset cannot overflow
const MaxListPage = 1 << 20

// Normalize applies paging defaults
func (q *MessageListQuery) Normalize() {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Page > MaxListPage {
		q.Page = MaxListPage
	}
	if q.PageSize <= 0 || q.PageSize > 100 {
		q.PageSize = 20
	}
}

// Offset returns the number of records before the requested page
func (q *MessageListQuery) Offset() int {
	return (q.Page - 1) * q.PageSize
}

// MessageListResponse is one page of archived messages, newest first
type MessageListResponse struct {
	Data     []MessageRecord `json:"data"`
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}
