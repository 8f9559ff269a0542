package domain

// Payment axis: Pendente -> Pago -> Finalizada, with Cancelado reachable from
// Pendente (cancel) or from Pago/Finalizada (reverse). Delivery axis moves
// forward one step at a time.

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFinalized, PaymentCancelled:
		return true
	}
	return false
}

func (s PaymentStatus) IsPaid() bool {
	return s == PaymentPaid || s == PaymentFinalized
}

// CanConfirm reports whether confirmation must run. Already-paid orders
// return (false, nil) so duplicate confirmations are no-ops.
func CanConfirm(current PaymentStatus) (bool, error) {
	switch current {
	case PaymentPending:
		return true, nil
	case PaymentPaid, PaymentFinalized:
		return false, nil
	default:
		return false, ErrInvalidTransition.WithMessage("cannot confirm payment of a %s order", current)
	}
}

func CanFinalize(current PaymentStatus) error {
	if current != PaymentPaid {
		return ErrInvalidTransition.WithMessage("cannot finalize a %s order", current)
	}
	return nil
}

func CanCancel(current PaymentStatus) error {
	if current != PaymentPending {
		if current.IsPaid() {
			return ErrPaidOrderCancel
		}
		return ErrInvalidTransition.WithMessage("cannot cancel a %s order", current)
	}
	return nil
}

func CanReverse(current PaymentStatus) error {
	if !current.IsPaid() {
		return ErrInvalidTransition.WithMessage("cannot reverse a %s order", current)
	}
	return nil
}

func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryPending, DeliveryDispatched, DeliveryDelivered:
		return true
	}
	return false
}

func (s DeliveryStatus) successor() DeliveryStatus {
	switch s {
	case DeliveryPending:
		return DeliveryDispatched
	case DeliveryDispatched:
		return DeliveryDelivered
	}
	return ""
}

// CanAdvanceDelivery allows only the immediate successor. Dispatch needs a
// paid order.
func CanAdvanceDelivery(payment PaymentStatus, current, next DeliveryStatus) error {
	if !next.Valid() {
		return ErrInvalidDeliveryStatus.WithMessage("%q", next)
	}
	if current.successor() != next {
		return ErrInvalidTransition.WithMessage("delivery cannot move from %s to %s", current, next)
	}
	if next == DeliveryDispatched && !payment.IsPaid() {
		return ErrDispatchUnpaid
	}
	return nil
}
