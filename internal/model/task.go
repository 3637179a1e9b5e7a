package model

import "time"

type Category string

const (
	CategoryBlogComment Category = "blog_comment"
	CategoryArticlePost Category = "article_post"
	CategoryProfile     Category = "profile"
	CategorySocialMedia Category = "social_media"
	CategoryForum       Category = "forum"
)

// AllCategories returns every known category in processing order.
func AllCategories() []Category {
	return []Category{
		CategoryBlogComment,
		CategoryArticlePost,
		CategoryProfile,
		CategorySocialMedia,
		CategoryForum,
	}
}

func (c Category) Valid() bool {
	for _, k := range AllCategories() {
		if k == c {
			return true
		}
	}
	return false
}

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

const (
	DefaultPriority   = 5
	MinPriority       = 1
	MaxPriority       = 10
	DefaultMaxRetries = 3
)

// Target is the destination header shared by every task payload.
type Target struct {
	URL        string `json:"url"`
	Domain     string `json:"domain,omitempty"`
	Identity   string `json:"identity,omitempty"`
	Keyword    string `json:"keyword,omitempty"`
	AnchorText string `json:"anchorText,omitempty"`
	LinkURL    string `json:"linkUrl,omitempty"`
}

type BlogCommentPayload struct {
	AuthorName  string `json:"authorName,omitempty"`
	AuthorEmail string `json:"authorEmail,omitempty"`
	Comment     string `json:"comment,omitempty"`
}

type ArticlePostPayload struct {
	Platform string   `json:"platform"`
	Tier     string   `json:"tier,omitempty"`
	Title    string   `json:"title,omitempty"`
	Body     string   `json:"body,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

type ProfilePayload struct {
	Platform string `json:"platform"`
	Username string `json:"username,omitempty"`
	Bio      string `json:"bio,omitempty"`
	Website  string `json:"website,omitempty"`
}

type SocialPayload struct {
	Platform string   `json:"platform"`
	Message  string   `json:"message,omitempty"`
	Hashtags []string `json:"hashtags,omitempty"`
}

type ForumPayload struct {
	Forum   string `json:"forum"`
	Thread  string `json:"thread,omitempty"`
	Subject string `json:"subject,omitempty"`
	Reply   string `json:"reply,omitempty"`
}

// Payload carries exactly one engine-specific body, matching the task category.
type Payload struct {
	BlogComment *BlogCommentPayload `json:"blogComment,omitempty"`
	ArticlePost *ArticlePostPayload `json:"articlePost,omitempty"`
	Profile     *ProfilePayload     `json:"profile,omitempty"`
	Social      *SocialPayload      `json:"social,omitempty"`
	Forum       *ForumPayload       `json:"forum,omitempty"`
}

// Content returns the rendered text of whichever body is set.
func (p Payload) Content() string {
	switch {
	case p.BlogComment != nil:
		return p.BlogComment.Comment
	case p.ArticlePost != nil:
		return p.ArticlePost.Title + "\n" + p.ArticlePost.Body
	case p.Profile != nil:
		return p.Profile.Bio
	case p.Social != nil:
		return p.Social.Message
	case p.Forum != nil:
		return p.Forum.Subject + "\n" + p.Forum.Reply
	}
	return ""
}

type TaskResult struct {
	Status  string `json:"status"`
	URL     string `json:"url,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Content string `json:"content,omitempty"`
}

type Task struct {
	ID         string     `json:"id"`
	Category   Category   `json:"category"`
	CampaignID string     `json:"campaignId,omitempty"`
	Priority   int        `json:"priority"`
	Status     TaskStatus `json:"status"`

	RetryCount int           `json:"retryCount"`
	MaxRetries int           `json:"maxRetries"`
	Backoff    time.Duration `json:"backoff,omitempty"`
	LastError  string        `json:"lastError,omitempty"`

	CreatedAt   time.Time `json:"createdAt"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
	FailedAt    time.Time `json:"failedAt,omitempty"`
	NextRetryAt time.Time `json:"nextRetryAt,omitempty"`

	Target  Target      `json:"target"`
	Payload Payload     `json:"payload"`
	Result  *TaskResult `json:"result,omitempty"`
}

// Clone returns a copy that shares no mutable pointers with t.
func (t Task) Clone() Task {
	out := t
	if t.Result != nil {
		r := *t.Result
		out.Result = &r
	}
	p := t.Payload
	if p.BlogComment != nil {
		v := *p.BlogComment
		out.Payload.BlogComment = &v
	}
	if p.ArticlePost != nil {
		v := *p.ArticlePost
		v.Tags = append([]string(nil), p.ArticlePost.Tags...)
		out.Payload.ArticlePost = &v
	}
	if p.Profile != nil {
		v := *p.Profile
		out.Payload.Profile = &v
	}
	if p.Social != nil {
		v := *p.Social
		v.Hashtags = append([]string(nil), p.Social.Hashtags...)
		out.Payload.Social = &v
	}
	if p.Forum != nil {
		v := *p.Forum
		out.Payload.Forum = &v
	}
	return out
}

// TaskState is the event published on the bus whenever a task changes status.
type TaskState struct {
	TaskID     string     `json:"taskId"`
	CampaignID string     `json:"campaignId,omitempty"`
	Category   Category   `json:"category"`
	Status     TaskStatus `json:"status"`
	RetryCount int        `json:"retryCount"`
	Domain     string     `json:"domain,omitempty"`
	LastError  string     `json:"lastError,omitempty"`
	AtMs       int64      `json:"atMs"`
}

type QueueStats struct {
	Category        Category `json:"category"`
	Pending         int      `json:"pending"`
	Processing      int      `json:"processing"`
	Completed       int      `json:"completed"`
	Failed          int      `json:"failed"`
	Total           int      `json:"total"`
	QueueDepth      int      `json:"queueDepth"`
	AvgProcessingMs float64  `json:"avgProcessingMs"`
}

type AllStats struct {
	Queues map[Category]QueueStats `json:"queues"`
	Totals QueueStats              `json:"totals"`
}
