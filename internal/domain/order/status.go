package order

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusPreparing Status = "PREPARING"
	StatusOnTheWay  Status = "ON_THE_WAY"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusApproved, StatusPreparing, StatusOnTheWay, StatusDelivered, StatusCancelled},
	StatusApproved:  {StatusPreparing, StatusOnTheWay, StatusDelivered, StatusCancelled},
	StatusPreparing: {StatusOnTheWay, StatusDelivered},
	StatusOnTheWay:  {StatusDelivered},
	StatusDelivered: {},
	StatusCancelled: {},
}

var labels = map[Status]string{
	StatusPending:   "Beklemede",
	StatusApproved:  "Onaylandı",
	StatusPreparing: "Hazırlanıyor",
	StatusOnTheWay:  "Yolda",
	StatusDelivered: "Teslim Edildi",
	StatusCancelled: "İptal Edildi",
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// Label is the status as shown to users.
func (s Status) Label() string {
	if l, ok := labels[s]; ok {
		return l
	}
	return string(s)
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
