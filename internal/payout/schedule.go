// Package payout computes manual-mode payout schedules. Everything here is
// pure so the assignment can be built fully in memory and applied as a single
// write-set at batch close.
package payout

import "sort"

// MonthsPerRound is the calendar cycle; groups larger than this overflow into
// additional rounds sharing the same months.
const MonthsPerRound = 12

// Slot is a (month, round) payout position.
type Slot struct {
	Month int
	Round int
}

// Member is the scheduling view of a batch member: its number and, when the
// member reserved a month while the batch was open, the reserved slot.
type Member struct {
	MemberNumber int
	Requested    *Slot
}

// Assignment is the final slot for one member.
type Assignment struct {
	MemberNumber int
	Slot         Slot
}

// RoundCount returns ceil(memberCount / 12), never less than 1.
func RoundCount(memberCount int) int {
	if memberCount <= MonthsPerRound {
		return 1
	}
	return (memberCount + MonthsPerRound - 1) / MonthsPerRound
}

// SlotSequence returns every valid slot for the given round count, ordered
// month-major: (1,1), (1,2), ..., (2,1), ... The month varies slower than the
// round. Total capacity is 12*rounds.
func SlotSequence(rounds int) []Slot {
	slots := make([]Slot, 0, MonthsPerRound*rounds)
	for m := 1; m <= MonthsPerRound; m++ {
		for r := 1; r <= rounds; r++ {
			slots = append(slots, Slot{Month: m, Round: r})
		}
	}
	return slots
}

// LowestFreeRound finds the lowest round in [1..rounds] for a month that is
// not in takenRounds. The second return is false when the month is fully
// booked.
func LowestFreeRound(takenRounds []int, rounds int) (int, bool) {
	for r := 1; r <= rounds; r++ {
		free := true
		for _, taken := range takenRounds {
			if taken == r {
				free = false
				break
			}
		}
		if free {
			return r, true
		}
	}
	return 0, false
}

// BuildManual assigns every member a slot. Reserved members keep their
// reservation; everyone else fills the remaining slots of the month-major
// sequence in ascending member-number order.
//
// Reservations are revalidated against the final member count: the round
// total may have shrunk since the reservation was made, and two reservations
// can collide after members left. Members are scanned in ascending
// member-number order and a reservation that is out of range or whose slot is
// already taken is dropped, its holder falling back to the unreserved pool.
// The lowest member number therefore wins a contested slot and the result is
// total and deterministic; close never fails over a stale reservation.
func BuildManual(members []Member) []Assignment {
	rounds := RoundCount(len(members))

	ordered := make([]Member, len(members))
	copy(ordered, members)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].MemberNumber < ordered[j].MemberNumber
	})

	used := make(map[Slot]bool, len(members))
	assignments := make([]Assignment, 0, len(members))
	var unreserved []Member

	for _, m := range ordered {
		req := m.Requested
		if req == nil {
			unreserved = append(unreserved, m)
			continue
		}
		slot := *req
		if slot.Month < 1 || slot.Month > MonthsPerRound || slot.Round < 1 || slot.Round > rounds || used[slot] {
			unreserved = append(unreserved, m)
			continue
		}
		used[slot] = true
		assignments = append(assignments, Assignment{MemberNumber: m.MemberNumber, Slot: slot})
	}

	next := 0
	sequence := SlotSequence(rounds)
	for _, m := range unreserved {
		for next < len(sequence) && used[sequence[next]] {
			next++
		}
		// capacity 12*rounds >= memberCount, so a free slot always exists
		slot := sequence[next]
		used[slot] = true
		next++
		assignments = append(assignments, Assignment{MemberNumber: m.MemberNumber, Slot: slot})
	}

	return assignments
}
